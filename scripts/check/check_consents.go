package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"

	_ "github.com/lib/pq"
)

// Scans the consents table for rows violating the at-most-one-active
// invariant per (subject, org, study). A clean run prints nothing but
// the summary line.
func main() {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		getEnv("DB_HOST", "localhost"),
		parseInt(getEnv("DB_PORT", "5432"), 5432),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "portal"),
		getEnv("DB_SSLMODE", "disable"),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	query := `
		SELECT subject_id, org_id, research_study_id, COUNT(*) AS live_rows
		FROM consents
		WHERE deleted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
		GROUP BY subject_id, org_id, research_study_id
		HAVING COUNT(*) > 1
		ORDER BY live_rows DESC;
	`

	rows, err := db.Query(query)
	if err != nil {
		log.Fatalf("Failed to query: %v", err)
	}
	defer rows.Close()

	var violations int
	for rows.Next() {
		var subjectID, orgID, studyID string
		var liveRows int
		if err := rows.Scan(&subjectID, &orgID, &studyID, &liveRows); err != nil {
			log.Printf("Failed to scan row: %v", err)
			continue
		}
		fmt.Printf("VIOLATION subject=%s org=%s study=%s live_rows=%d\n",
			subjectID, orgID, studyID, liveRows)
		violations++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Row iteration failed: %v", err)
	}

	fmt.Printf("checked consents: %d violating triples\n", violations)
	if violations > 0 {
		os.Exit(1)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
