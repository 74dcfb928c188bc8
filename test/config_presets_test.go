//go:build integration
// +build integration

package test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/travelmate/authgate"
	"github.com/travelmate/authgate/jwt"
)

func TestSigningPresetsBuildAndRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}

	presets := map[string]func(*authgate.Config){
		"hs256": func(cfg *authgate.Config) {},
		"hs512": func(cfg *authgate.Config) { cfg.JWT.SigningMethod = jwt.MethodHS512 },
		"ed25519": func(cfg *authgate.Config) {
			cfg.JWT.SigningMethod = jwt.MethodEd25519
			cfg.JWT.PrivateKey = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
			cfg.JWT.PublicKey = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
		},
	}
	for name, mutate := range presets {
		t.Run(name, func(t *testing.T) {
			c := newCluster(t)
			e := c.replica(t, mutate)
			res, err := e.Login(t.Context(), loginRequest("203.0.113.1", testPassword, "phone"))
			if err != nil {
				t.Fatalf("login: %v", err)
			}
			if id := e.Identify(res.AccessToken); !id.Authenticated() || id.PrincipalID != "p-ana" {
				t.Fatalf("identify = %+v", id)
			}
		})
	}
}
