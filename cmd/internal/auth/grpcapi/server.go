package grpcapi

import (
	"context"
	"log/slog"
	"net"
	"time"

	"passport/cmd/internal/auth/session"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	ServiceName            = "passport.auth.v1.AuthService"
	authenticateMethod     = "Authenticate"
	authenticateFullMethod = "/" + ServiceName + "/" + authenticateMethod
)

// AuthenticateRequest carries the bearer token to check.
type AuthenticateRequest struct {
	Token string `json:"token"`
}

// Session is the wire form of an authenticated session.
type Session struct {
	ID              uuid.UUID  `json:"id"`
	AccountID       uuid.UUID  `json:"account_id"`
	ChallengeID     *uuid.UUID `json:"challenge_id,omitempty"`
	ClientID        *uuid.UUID `json:"client_id,omitempty"`
	AppID           *uuid.UUID `json:"app_id,omitempty"`
	ParentSessionID *uuid.UUID `json:"parent_session_id,omitempty"`
	Scopes          []string   `json:"scopes"`
	Audiences       []string   `json:"audiences"`
	LastGrantedAt   *time.Time `json:"last_granted_at,omitempty"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toWire(s session.Session) *Session {
	return &Session{
		ID:              s.ID,
		AccountID:       s.AccountID,
		ChallengeID:     s.ChallengeID,
		ClientID:        s.ClientID,
		AppID:           s.AppID,
		ParentSessionID: s.ParentSessionID,
		Scopes:          s.Scopes,
		Audiences:       s.Audiences,
		LastGrantedAt:   s.LastGrantedAt,
		ExpiredAt:       s.ExpiredAt,
		CreatedAt:       s.CreatedAt,
	}
}

// AuthServiceServer is the server side of passport.auth.v1.AuthService.
type AuthServiceServer interface {
	Authenticate(ctx context.Context, req *AuthenticateRequest) (*Session, error)
}

// ServiceDesc describes passport.auth.v1.AuthService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: authenticateMethod, Handler: authenticateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "passport/auth/v1/auth.proto",
}

func authenticateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AuthenticateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).Authenticate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: authenticateFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthServiceServer).Authenticate(ctx, req.(*AuthenticateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterAuthServiceServer registers srv on s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Server authenticates tokens through the session service.
type Server struct {
	log      *slog.Logger
	sessions *session.Service
	now      func() time.Time
}

// NewServer constructs a Server.
func NewServer(log *slog.Logger, sessions *session.Service) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{log: log, sessions: sessions, now: time.Now}
}

// Authenticate resolves a token to its session.
//
// Missing, malformed and expired tokens map to codes.Unauthenticated; a token
// whose session no longer exists maps to codes.NotFound.
func (s *Server) Authenticate(ctx context.Context, req *AuthenticateRequest) (*Session, error) {
	res := s.sessions.AuthenticateToken(ctx, s.now().UTC(), req.Token, peerIP(ctx))
	if res.Valid && res.Session != nil {
		return toWire(*res.Session), nil
	}

	switch res.Message {
	case session.MsgSessionNotFound:
		return nil, status.Error(codes.NotFound, res.Message)
	case session.MsgAuthError:
		return nil, status.Error(codes.Internal, res.Message)
	default:
		return nil, status.Error(codes.Unauthenticated, res.Message)
	}
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return ""
	}
	return host
}

// NewGRPCServer returns a grpc.Server with the auth service registered and
// requests logged through log.
func NewGRPCServer(log *slog.Logger, srv AuthServiceServer, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = slog.Default()
	}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(loggingInterceptor(log))}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterAuthServiceServer(gs, srv)
	return gs
}

func loggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		level := slog.LevelInfo
		switch code {
		case codes.OK, codes.Unauthenticated, codes.NotFound:
		default:
			level = slog.LevelError
		}
		log.Log(ctx, level, "grpc.request",
			"method", info.FullMethod,
			"code", code.String(),
			"dur_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}
