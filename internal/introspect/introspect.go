// Package introspect implements the token introspection service. Registered
// applications post a user token plus the request they want checked; the
// service validates the token, classifies it, resolves the owning user, and
// asks the authorization decision service whether the request is permitted.
package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openmedgrid/authz-server/internal/cache"
	"github.com/openmedgrid/authz-server/internal/model"
	"github.com/openmedgrid/authz-server/internal/service"
	"github.com/openmedgrid/authz-server/internal/token"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

const (
	msgTokenNotFound        = "Token not found"
	msgUserNotFound         = "user doesn't exist"
	msgNotEnoughPrivileges  = "User doesn't have enough privileges."
	msgLongTermTokenChanged = "Cannot find matched long term token, your token might have been refreshed."
)

// ErrNoApplication indicates the transport layer authenticated the
// introspection caller but did not resolve it to a registered application.
// This is an internal consistency error, not a normal deny.
var ErrNoApplication = errors.New("introspection caller is not associated with an application")

// Authorizer decides whether a user's request to an application is permitted.
type Authorizer interface {
	IsAuthorized(application *model.Application, requestBody []byte, user *model.User) bool
}

// Request is the inbound introspection payload: the token to inspect plus
// everything the calling application wants verified.
type Request struct {
	Token   string          `json:"token"`
	Request json.RawMessage `json:"request,omitempty"`
}

// Response is the introspection outcome as a flat JSON object: active,
// message, and on success the original token claims plus the privilege fields.
type Response map[string]any

// Service runs the introspection state machine.
type Service struct {
	tokens     *token.Util
	users      service.UserRepository
	authorizer Authorizer
	sessions   *cache.SessionTracker
	tokenTTL   time.Duration
}

// NewService wires the introspection service. tokenTTL is the lifetime applied
// to refreshed tokens.
func NewService(tokens *token.Util, users service.UserRepository, authorizer Authorizer,
	sessions *cache.SessionTracker, tokenTTL time.Duration) *Service {
	return &Service{
		tokens:     tokens,
		users:      users,
		authorizer: authorizer,
		sessions:   sessions,
		tokenTTL:   tokenTTL,
	}
}

func inactive(message string) Response {
	return Response{"active": false, "message": message}
}

// Introspect validates the presented token and produces the introspection
// response for the calling application. A non-nil error means an internal
// consistency violation the transport layer must surface as a server error;
// all normal negative outcomes are carried in the response itself.
func (s *Service) Introspect(ctx context.Context, application *model.Application, req Request) (Response, error) {
	if req.Token == "" {
		logger.Error("introspection request carries no token")
		return inactive(msgTokenNotFound), nil
	}

	claims, err := s.tokens.Parse(req.Token)
	if err != nil {
		// Only a token that failed validation may appear in the log.
		logger.Errorf("token %q is invalid: %v", req.Token, err)
		return inactive(strings.TrimPrefix(err.Error(), token.ErrInvalidToken.Error()+": ")), nil
	}
	// The token is verified; from here on only its claims are logged, never
	// the raw token string.

	if application == nil {
		logger.Error("no application resolved for the introspection caller")
		return nil, ErrNoApplication
	}

	subject, _ := claims.GetSubject()
	isLongTermToken := false
	if token.IsLongTermSubject(subject) {
		subject = token.StripLongTermPrefix(subject)
		isLongTermToken = true
	}

	user, err := s.users.FindUserBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			logger.Errorf("could not find user with subject %s", subject)
			return inactive(msgUserNotFound), nil
		}
		return nil, fmt.Errorf("failed to resolve user by subject: %w", err)
	}

	// A long-term token must equal exactly the one stored on the user record;
	// a mismatch means the stored token was refreshed and the presented one
	// may be compromised. Authorization is never attempted in that case.
	isLongTermTokenCompromised := false
	var denialMessage string
	if isLongTermToken && (user.LongTermToken == nil || req.Token != *user.LongTermToken) {
		isLongTermTokenCompromised = true
		logger.Errorf("user %s|%s sent a long term token not matching the stored record", user.UUID, user.Subject)
		denialMessage = msgLongTermTokenChanged
	}

	authorized := false
	switch {
	case len(application.Privileges) == 0:
		// An application with no privileges of its own is introspected without
		// rule evaluation; still logged.
		authorized = true
		logger.Infof("ACCESS_LOG ___ %s,%s,%s ___ has been granted access to execute query ___ %s ___ in application ___ %s ___ NO APP PRIVILEGES DEFINED",
			user.UUID, user.Email, user.Subject, string(req.Request), application.Name)
	case !isLongTermTokenCompromised && len(user.Roles) > 0 &&
		s.authorizer.IsAuthorized(application, req.Request, user):
		authorized = true
	default:
		if !isLongTermTokenCompromised {
			// Collapse "app not privileged for user" and "user lacks
			// privilege" into one message so the response does not leak
			// entitlement structure.
			denialMessage = msgNotEnoughPrivileges
		}
	}

	resp := Response{}
	if authorized {
		resp["active"] = true
		resp["roles"] = strings.Join(user.TotalPrivilegeNames(), ",")
		s.maybeRefresh(claims, user, resp)
	} else {
		resp["active"] = false
		resp["message"] = denialMessage
	}

	// Original claims ride along regardless of the outcome.
	for k, v := range claims {
		resp[k] = v
	}
	resp["privileges"] = user.PrivilegeNamesByApplication(application)

	return resp, nil
}

// maybeRefresh reissues the token when it is past the halfway point of its
// lifetime, attaching the fresh token to the response.
func (s *Service) maybeRefresh(claims jwt.MapClaims, user *model.User, resp Response) {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || !s.tokens.ShouldRefresh(exp.Time, s.tokenTTL) {
		resp["tokenRefreshed"] = false
		return
	}

	refreshed, err := s.refresh(claims, user)
	if err != nil {
		resp["active"] = false
		resp["message"] = err.Error()
		return
	}
	resp["token"] = refreshed
	resp["tokenRefreshed"] = true
}

// refresh mints a replacement token with the same identity claims and a fresh
// expiry. Refresh is refused for deactivated users and, for normal tokens, for
// expired sessions; a long-term token is never bound to a session.
func (s *Service) refresh(claims jwt.MapClaims, user *model.User) (string, error) {
	subject, _ := claims.GetSubject()
	if subject == "" {
		logger.Error("refresh refused, token has no subject")
		return "", errors.New("Inner application error, please contact admin.")
	}

	if !user.Active {
		logger.Errorf("refresh refused, user %s has been deactivated", user.Subject)
		return "", errors.New("User has been deactivated.")
	}

	if !token.IsLongTermSubject(subject) && s.sessions.IsSessionExpired(user.Subject) {
		logger.Infof("refresh refused, session of user %s has expired", user.Subject)
		return "", errors.New("Your session has expired. Please log in again.")
	}

	custom := make(map[string]any, len(claims))
	for k, v := range claims {
		switch k {
		case "jti", "iss", "sub", "iat", "exp":
			continue
		}
		custom[k] = v
	}
	id, _ := claims["jti"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	issuer, _ := claims.GetIssuer()

	refreshed, err := s.tokens.Mint(id, issuer, subject, custom, s.tokenTTL)
	if err != nil {
		logger.Errorf("failed to mint refreshed token: %v", err)
		return "", errors.New("Inner application error, please contact admin.")
	}
	return refreshed, nil
}
