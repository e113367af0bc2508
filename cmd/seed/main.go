package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("error closing db: %v", err)
		}
	}()

	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		if err := db.Ping(); err == nil {
			log.Println("database connection established")
			break
		}
		if i == maxRetries-1 {
			log.Fatalf("failed to connect to database after %d retries", maxRetries)
		}
		log.Printf("waiting for database... (%d/%d)", i+1, maxRetries)
		time.Sleep(1 * time.Second)
	}

	log.Println("seeding database...")

	systemID := uuid.New()
	_, err = db.Exec(`
		INSERT INTO systems (id, name, email_signature, sms_signature, default_from_email, callback_type, webhook_url, webhook_auth_token, queue_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO NOTHING
	`, systemID, "sandbox", "The Sandbox Team", "Sandbox", "noreply@sandbox.example.com",
		"webhook", "http://localhost:9999/sandbox-callback", "", "")
	if err != nil {
		log.Fatalf("failed to seed system: %v", err)
	}

	templateID := uuid.New()
	_, err = db.Exec(`
		INSERT INTO templates (id, name, type, subject, body, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (name, type) DO NOTHING
	`, templateID, "welcome-email", "email", "Welcome, {{name}}!", "Hi {{name}}, thanks for joining {{system}}.")
	if err != nil {
		log.Fatalf("failed to seed template: %v", err)
	}

	gmailConfig, _ := json.Marshal(map[string]interface{}{
		"host":     "smtp.gmail.com",
		"port":     587,
		"sender":   "noreply@sandbox.example.com",
		"password": "changeme",
	})
	providerID := uuid.New()
	_, err = db.Exec(`
		INSERT INTO providers (id, name, type, config, priority, is_active, class_name)
		VALUES ($1, $2, $3, $4, $5, true, $6)
		ON CONFLICT (name) DO NOTHING
	`, providerID, "gmail-primary", "email", gmailConfig, 0, "GmailSMTPServer")
	if err != nil {
		log.Fatalf("failed to seed provider: %v", err)
	}

	log.Println("seeding completed successfully.")
}
