package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulsecrm/backend/internal/config"
	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/internal/repository"
	"pulsecrm/backend/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	tenants := repository.NewPostgresTenantStore(pool)
	rules := repository.NewPostgresRuleStore(pool, logger)
	crm := repository.NewPostgresCRMStore(pool)

	// 1. Ensure the dev tenant exists
	domain := "localhost"
	tenant, err := tenants.GetTenantByDomain(ctx, domain)
	if err != nil {
		logger.Info("Creating default tenant", "domain", domain)
		tenant = &models.Tenant{
			Name:   "Local Dev Tenant",
			Domain: domain,
		}
		if err := tenants.CreateTenant(ctx, tenant); err != nil {
			log.Fatalf("Failed to create tenant: %v", err)
		}

		apiKey, err := generateAPIKey()
		if err != nil {
			log.Fatalf("Failed to generate API key: %v", err)
		}
		if err := tenants.UpsertCredentials(ctx, &models.TenantCredentials{
			TenantID: tenant.ID,
			APIKey:   apiKey,
		}); err != nil {
			log.Fatalf("Failed to store credentials: %v", err)
		}
		logger.Info("Tenant API key generated", "api_key", apiKey)
	} else {
		logger.Info("Found existing tenant", "id", tenant.ID)
	}

	// 2. Seed CRM fixtures (idempotent via count check)
	var dealCount int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM deals WHERE tenant_id = $1`, tenant.ID).Scan(&dealCount); err != nil {
		log.Fatalf("Failed to count deals: %v", err)
	}
	if dealCount == 0 {
		deals := []struct {
			Name   string
			Stage  string
			Amount float64
		}{
			{"Acme renewal", "negotiation", 24000},
			{"Globex pilot", "qualified", 8000},
			{"Initech expansion", "won", 56000},
		}
		for _, d := range deals {
			if _, err := pool.Exec(ctx,
				`INSERT INTO deals (id, tenant_id, name, stage, amount) VALUES ($1, $2, $3, $4, $5)`,
				uuid.New().String(), tenant.ID, d.Name, d.Stage, d.Amount); err != nil {
				log.Printf("Failed to seed deal %s: %v", d.Name, err)
			}
		}
		logger.Info("Seeded deals", "count", len(deals))

		if _, err := crm.CreateContact(ctx, tenant.ID, "Jordan Reyes", "jordan@acme.example"); err != nil {
			log.Printf("Failed to seed contact: %v", err)
		}
		if _, err := crm.CreateTask(ctx, tenant.ID, "Call Acme about renewal", nil); err != nil {
			log.Printf("Failed to seed task: %v", err)
		}
	}

	// 3. Seed automation rules
	existing, err := rules.ListRules(ctx, tenant.ID)
	if err != nil {
		log.Fatalf("Failed to list existing rules: %v", err)
	}
	existingMap := make(map[string]bool)
	for _, r := range existing {
		existingMap[r.Name] = true
	}

	for _, rule := range seedRules(tenant.ID) {
		if existingMap[rule.Name] {
			logger.Info("Skipping existing rule", "name", rule.Name)
			continue
		}
		if err := rules.CreateRule(ctx, rule); err != nil {
			log.Printf("Failed to create rule %s: %v", rule.Name, err)
		} else {
			logger.Info("Seeded rule", "name", rule.Name, "id", rule.ID)
		}
	}
	logger.Info("Seeding complete!")
}

func seedRules(tenantID string) []*models.AutomationRule {
	return []*models.AutomationRule{
		{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			Name:        "Welcome new contact",
			Enabled:     true,
			TriggerType: models.TriggerContactCreated,
			Workflow: []models.Step{
				{
					ID:   "draft",
					Type: models.StepAITask,
					Config: &models.AITaskConfig{
						Prompt:     "Write a short, friendly welcome email for ${contact.name}. Plain text, two sentences.",
						UseContext: true,
					},
				},
				{
					ID:   "send",
					Type: models.StepSendEmail,
					Config: &models.SendEmailConfig{
						To:      "${contact.email}",
						Subject: "Welcome aboard",
						Body:    "${draft.text}",
					},
				},
			},
		},
		{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			Name:        "Big deal alert",
			Enabled:     true,
			TriggerType: models.TriggerDealCreated,
			TriggerFilter: &models.Condition{
				Field: "deal.amount",
				Op:    models.OpGreaterThan,
				Value: 10000,
			},
			Workflow: []models.Step{
				{
					ID:   "notify",
					Type: models.StepChatMessage,
					Config: &models.ChatMessageConfig{
						Text: "New deal over 10k: ${deal.name} (${deal.amount})",
					},
				},
			},
		},
		{
			ID:           uuid.New().String(),
			TenantID:     tenantID,
			Name:         "Morning pipeline review",
			Enabled:      true,
			TriggerType:  models.TriggerSchedule,
			ScheduleCron: "0 9 * * 1-5",
			Workflow: []models.Step{
				{
					ID:   "review",
					Type: models.StepAIAgent,
					Config: &models.AIAgentConfig{
						Goal: "Review the pipeline. If there are overdue tasks, create a follow-up task titled 'Clear overdue queue'. Summarize what you found.",
					},
				},
				{
					ID:   "report",
					Type: models.StepChatMessage,
					Config: &models.ChatMessageConfig{
						Text: "Morning review: ${review.text}",
					},
				},
			},
		},
	}
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
