package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/commissions/internal/authz"
	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationHeader = "authorization"
	bearerPrefix        = "Bearer "
)

var methodActions = map[string]authz.Action{
	MethodReleaseSingle:       authz.ActionRelease,
	MethodUpdateReleaseDate:   authz.ActionUpdateReleaseDate,
	MethodCancel:              authz.ActionCancel,
	MethodClaim:               authz.ActionClaim,
	MethodFixBalance:          authz.ActionFixBalance,
	MethodResetAllCommissions: authz.ActionReset,
	MethodQueryCommissions:    authz.ActionRead,
	MethodListUnsettled:       authz.ActionRead,
}

type actorContextKey struct{}

// TokenConfig describes the HS256 bearer tokens accepted by the server.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
}

// Authenticator turns bearer tokens into commission actors and checks the
// permission table for every call.
type Authenticator struct {
	config     TokenConfig
	authorizer *authz.Authorizer
}

// NewAuthenticator validates the token settings.
func NewAuthenticator(config TokenConfig, authorizer *authz.Authorizer) (*Authenticator, error) {
	if len(config.SigningKey) == 0 {
		return nil, errors.New("grpc token signing key is required")
	}
	if authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	return &Authenticator{config: config, authorizer: authorizer}, nil
}

// UnaryInterceptor authenticates and authorizes each unary call.
func (authenticator *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		action, ok := methodActions[info.FullMethod]
		if !ok {
			return nil, status.Error(codes.PermissionDenied, "unknown method")
		}
		subject, err := authenticator.subject(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if err := authenticator.authorizer.Authorize(subject, action); err != nil {
			if errors.Is(err, authz.ErrForbidden) {
				return nil, status.Error(codes.PermissionDenied, err.Error())
			}
			return nil, status.Error(codes.Internal, err.Error())
		}
		actor, err := commission.NewActor(subject)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(context.WithValue(ctx, actorContextKey{}, actor), request)
	}
}

func (authenticator *Authenticator) subject(ctx context.Context) (string, error) {
	incoming, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("missing metadata")
	}
	values := incoming.Get(authorizationHeader)
	if len(values) == 0 || !strings.HasPrefix(values[0], bearerPrefix) {
		return "", errors.New("missing bearer token")
	}
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if authenticator.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(authenticator.config.Issuer))
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(values[0], bearerPrefix), claims, func(token *jwt.Token) (any, error) {
		return authenticator.config.SigningKey, nil
	}, options...)
	if err != nil {
		return "", fmt.Errorf("invalid bearer token: %w", err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("bearer token has no subject")
	}
	return claims.Subject, nil
}

func actorFromContext(ctx context.Context) commission.Actor {
	actor, _ := ctx.Value(actorContextKey{}).(commission.Actor)
	return actor
}

// SignToken mints an HS256 bearer token for subject.
func SignToken(config TokenConfig, subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(config.SigningKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken attaches a token to every call made through a client connection.
type BearerToken struct {
	Token string
	// RequireTLS refuses to send the token over an insecure transport.
	RequireTLS bool
}

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (token BearerToken) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{authorizationHeader: bearerPrefix + token.Token}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials.
func (token BearerToken) RequireTransportSecurity() bool {
	return token.RequireTLS
}
