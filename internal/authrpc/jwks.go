package authrpc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Claims is the JWT claim set the gateway expects from an embedded auth
// token: the subject carries the numeric UserId as a string.
type Claims struct {
	jwt.RegisteredClaims
}

// JWKSClient validates tokens locally against a JSON Web Key Set, for
// deployments that embed verification in the gateway instead of calling out
// to a standalone auth service.
type JWKSClient struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
}

// NewJWKSClient fetches and caches the JWKS for domain, refreshing hourly.
func NewJWKSClient(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*JWKSClient, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("parse issuer url: %w", err)
	}
	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)
	opts := append([]jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}, regOpts...)
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch initial jwks: %w", err)
	}

	keyFunc := func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("get keys from cache: %w", err)
		}
		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}
		var pubKey any
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("get raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &JWKSClient{keyFunc: keyFunc, issuer: issuerURL.String(), audience: audience}, nil
}

// VerifyUserToken implements Client by validating the JWT locally.
func (v *JWKSClient) VerifyUserToken(ctx context.Context, tokenString string) (*Verified, bool, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return nil, false, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, false, errors.New("token is invalid")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, false, errors.New("unexpected claims type")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 32)
	if err != nil {
		return nil, false, fmt.Errorf("subject %q is not a numeric user id: %w", claims.Subject, err)
	}

	return &Verified{UserID: int32(userID)}, true, nil
}
