package main

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"
)

func main() {
	fmt.Println("Creating Beacon database tables...")

	// Connect to database
	dsn := "host=localhost port=5432 user=beacon password=beaconpassword dbname=beacon sslmode=disable"
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test connection
	err = db.Ping()
	if err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("✅ Connected to database")

	// pgvector must be installed before the embedding_chunks table exists
	fmt.Println("Creating vector extension...")
	_, err = db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`)
	if err != nil {
		log.Fatalf("Failed to create vector extension (is pgvector installed?): %v", err)
	}
	fmt.Println("✅ Vector extension created/verified")

	// Create schema
	fmt.Println("Creating beacon schema...")
	_, err = db.Exec(`CREATE SCHEMA IF NOT EXISTS beacon`)
	if err != nil {
		log.Printf("Warning: Failed to create schema: %v", err)
	} else {
		fmt.Println("✅ Schema created/verified")
	}

	// Create institutions table
	fmt.Println("Creating institutions table...")
	createInstitutionsTable := `
	CREATE TABLE IF NOT EXISTS beacon.institutions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		type VARCHAR(50) NOT NULL,
		parent_ministry_id UUID,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMP WITH TIME ZONE
	)`

	_, err = db.Exec(createInstitutionsTable)
	if err != nil {
		log.Printf("Warning: Failed to create institutions table: %v", err)
	} else {
		fmt.Println("✅ Institutions table created/verified")
	}

	// Create users table
	fmt.Println("Creating users table...")
	createUsersTable := `
	CREATE TABLE IF NOT EXISTS beacon.users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email VARCHAR(255) NOT NULL UNIQUE,
		role VARCHAR(50) NOT NULL,
		institution_id UUID,
		approved BOOLEAN NOT NULL DEFAULT FALSE,
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMP WITH TIME ZONE
	)`

	_, err = db.Exec(createUsersTable)
	if err != nil {
		log.Printf("Warning: Failed to create users table: %v", err)
	} else {
		fmt.Println("✅ Users table created/verified")
	}

	// Create documents table
	fmt.Println("Creating documents table...")
	createDocumentsTable := `
	CREATE TABLE IF NOT EXISTS beacon.documents (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		uploader_id UUID NOT NULL,
		institution_id UUID NOT NULL,
		visibility VARCHAR(50) NOT NULL,
		approval_status VARCHAR(50) NOT NULL DEFAULT 'draft',
		requires_upper_review BOOLEAN NOT NULL DEFAULT FALSE,
		escalated_at TIMESTAMP WITH TIME ZONE,
		approver_id UUID,
		approved_at TIMESTAMP WITH TIME ZONE,
		rejection_reason TEXT,
		object_url TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		deleted_at TIMESTAMP WITH TIME ZONE
	)`

	_, err = db.Exec(createDocumentsTable)
	if err != nil {
		log.Printf("Warning: Failed to create documents table: %v", err)
	} else {
		fmt.Println("✅ Documents table created/verified")
	}

	// Create document_metadata table
	fmt.Println("Creating document_metadata table...")
	createMetadataTable := `
	CREATE TABLE IF NOT EXISTS beacon.document_metadata (
		document_id UUID PRIMARY KEY,
		title VARCHAR(500) NOT NULL,
		summary TEXT,
		keywords TEXT[],
		department VARCHAR(255),
		embedding_status VARCHAR(50) NOT NULL DEFAULT 'not_embedded',
		embedding_started_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`

	_, err = db.Exec(createMetadataTable)
	if err != nil {
		log.Printf("Warning: Failed to create document_metadata table: %v", err)
	} else {
		fmt.Println("✅ Document metadata table created/verified")
	}

	// Create document_texts table
	fmt.Println("Creating document_texts table...")
	createTextsTable := `
	CREATE TABLE IF NOT EXISTS beacon.document_texts (
		document_id UUID PRIMARY KEY,
		text TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`

	_, err = db.Exec(createTextsTable)
	if err != nil {
		log.Printf("Warning: Failed to create document_texts table: %v", err)
	} else {
		fmt.Println("✅ Document texts table created/verified")
	}

	// Create embedding_chunks table
	fmt.Println("Creating embedding_chunks table...")
	createChunksTable := `
	CREATE TABLE IF NOT EXISTS beacon.embedding_chunks (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		document_id UUID NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding vector(1024),
		visibility VARCHAR(50) NOT NULL,
		institution_id UUID NOT NULL,
		approval_status VARCHAR(50) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`

	_, err = db.Exec(createChunksTable)
	if err != nil {
		log.Printf("Warning: Failed to create embedding_chunks table: %v", err)
	} else {
		fmt.Println("✅ Embedding chunks table created/verified")
	}

	// Create audit_events table
	fmt.Println("Creating audit_events table...")
	createAuditTable := `
	CREATE TABLE IF NOT EXISTS beacon.audit_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		actor_id UUID NOT NULL,
		verb VARCHAR(100) NOT NULL,
		target_id UUID,
		details JSONB DEFAULT '{}',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`

	_, err = db.Exec(createAuditTable)
	if err != nil {
		log.Printf("Warning: Failed to create audit_events table: %v", err)
	} else {
		fmt.Println("✅ Audit events table created/verified")
	}

	// Create indexes
	fmt.Println("Creating indexes...")
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_institutions_parent ON beacon.institutions(parent_ministry_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_institution_id ON beacon.users(institution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_uploader_id ON beacon.documents(uploader_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_inst_status ON beacon.documents(institution_id, approval_status)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON beacon.embedding_chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_actor_id ON beacon.audit_events(actor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_target_id ON beacon.audit_events(target_id)`,
	}

	for _, index := range indexes {
		_, err = db.Exec(index)
		if err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
		}
	}
	fmt.Println("✅ Indexes created/verified")

	// ANN index for cosine search. Built after tables so a fresh install can
	// run this script once, end to end. Lists=100 suits up to ~1M chunks.
	fmt.Println("Creating vector index...")
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON beacon.embedding_chunks
		USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`)
	if err != nil {
		log.Printf("Warning: Failed to create vector index: %v", err)
	} else {
		fmt.Println("✅ Vector index created/verified")
	}

	fmt.Println("\n🎉 Database setup complete!")
	fmt.Println("All tables are ready for Beacon.")
}
