package token

import (
	"github.com/go-jose/go-jose/v4"
)

// PublicJWKS returns the ring's public key as a JWK set for relying parties.
func (k *KeyRing) PublicJWKS() jose.JSONWebKeySet {
	pair := k.Current()
	if pair == nil || pair.Public == nil {
		return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	}
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       pair.Public,
			KeyID:     pair.KeyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	}
}
