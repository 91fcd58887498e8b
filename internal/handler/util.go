// Package handler serves the HTTP surface in API Gateway request/response shape.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	sessionCookie = "session_token"
	sessionTTL    = 24 * time.Hour
)

// getHeader looks a header up case-insensitively.
func getHeader(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// GetSessionID extracts the browser session ID from the Authorization header
// or the session cookie.
func GetSessionID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	tokenString := ""
	authHeader := getHeader(req, "Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	if tokenString == "" {
		// Cookie format: session_token=xxx; ...
		for _, part := range strings.Split(getHeader(req, "Cookie"), ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, sessionCookie+"=") {
				tokenString = strings.TrimPrefix(part, sessionCookie+"=")
				break
			}
		}
	}

	if tokenString == "" {
		return "", fmt.Errorf("no session token found")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %v", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
	}
	return "", fmt.Errorf("invalid token claims")
}

// Sessions mints and reads the signed browser-session cookie.
type Sessions struct {
	jwtSecret string
	// secure adds the Secure attribute; off for plain-http localhost.
	secure bool
	now    func() time.Time
}

func NewSessions(jwtSecret string, secure bool) *Sessions {
	return &Sessions{jwtSecret: jwtSecret, secure: secure, now: time.Now}
}

// Ensure returns the session ID of req, minting a new session when req has
// none. cookie is non-empty when a Set-Cookie header must be sent.
func (s *Sessions) Ensure(req events.APIGatewayProxyRequest) (sessionID, cookie string, err error) {
	if id, err := GetSessionID(req, s.jwtSecret); err == nil {
		return id, "", nil
	}

	sessionID = uuid.NewString()
	claims := jwt.MapClaims{
		"sub": sessionID,
		"iat": s.now().Unix(),
		"exp": s.now().Add(sessionTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", "", fmt.Errorf("failed to sign session: %w", err)
	}
	return sessionID, s.cookie(signed, int(sessionTTL.Seconds())), nil
}

// ClearCookie expires the session cookie.
func (s *Sessions) ClearCookie() string {
	return s.cookie("", 0)
}

func (s *Sessions) cookie(value string, maxAge int) string {
	c := fmt.Sprintf("%s=%s; HttpOnly; Path=/; Max-Age=%d; SameSite=Lax", sessionCookie, value, maxAge)
	if s.secure {
		c += "; Secure"
	}
	return c
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func errorResponse(status int, message string) events.APIGatewayProxyResponse {
	return jsonResponse(status, map[string]string{"error": message})
}

func redirect(location string, cookies ...string) events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": location,
		},
	}
	if len(cookies) > 0 {
		resp.MultiValueHeaders = map[string][]string{"Set-Cookie": cookies}
	}
	return resp
}
