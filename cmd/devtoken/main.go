// Command devtoken mints a bearer token signed with JWT_SECRET so the API can
// be exercised locally without the auth provider.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/ebailine/sivio/api/internal/auth"
)

func main() {
	subject := flag.String("sub", "dev-student", "token subject (user id)")
	email := flag.String("email", "dev@example.edu", "email claim")
	role := flag.String("role", "student", "role claim, use admin for cache administration")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret, defaults to JWT_SECRET")
	flag.Parse()

	manager := auth.NewJWTManager(*secret, *ttl, auth.WithIssuer(os.Getenv("JWT_ISSUER")), auth.WithAudience(os.Getenv("JWT_AUDIENCE")))
	token, err := manager.GenerateToken(*subject, *email, *role)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Fprintln(os.Stdout, token)
}
