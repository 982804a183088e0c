package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

func main() {
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	userID := "local-user"
	var email string
	if args := flag.Args(); len(args) > 0 {
		userID = args[0]
		if len(args) > 1 {
			email = args[1]
		}
	}

	tok, err := signToken(secretFromEnv(), userID, email, *ttl, time.Now())
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Print(tok)
}

// secretFromEnv returns the shared secret the server uses in local auth mode.
func secretFromEnv() string {
	if s := os.Getenv("LOCAL_AUTH_SHARED_SECRET"); s != "" {
		return s
	}
	if s := os.Getenv("TEST_JWT_SECRET"); s != "" {
		return s
	}
	return "testsecret"
}

func signToken(secret, userID, email string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
