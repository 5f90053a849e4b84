//go:build ignore
// +build ignore

// Seed a demo organization with a welcome -> follow-up rule chain, business
// hours and a few contacts. Useful for local smoke testing.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run scripts/seed_demo_org.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/relaycrm/orchestrator/internal/contacts"
	"github.com/relaycrm/orchestrator/internal/domain"
	"github.com/relaycrm/orchestrator/internal/hours"
	"github.com/relaycrm/orchestrator/internal/rules"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	orgID := uuid.New()
	ruleStore := rules.NewStore(db)
	hourStore := hours.NewStore(db)
	contactStore := contacts.NewStore(db)

	welcome := &domain.Rule{
		OrganizationID: orgID,
		Name:           "Welcome email",
		TriggerType:    domain.TriggerContactEvent,
		Channel:        domain.ChannelEmail,
		Subject:        "Welcome, {{ first_name | default: \"there\" }}!",
		BodyTemplate:   "<p>Thanks for signing up, {{ first_name }}.</p>",
		FromName:       "RelayCRM",
		FromAddress:    "hello@relaycrm.example",
		Active:         true,
	}
	if err := ruleStore.CreateRule(ctx, welcome); err != nil {
		log.Fatalf("create welcome rule: %v", err)
	}

	followUp := &domain.Rule{
		OrganizationID: orgID,
		Name:           "Follow-up after welcome",
		TriggerType:    domain.TriggerContactEvent,
		Channel:        domain.ChannelEmail,
		Subject:        "How is it going, {{ first_name }}?",
		BodyTemplate:   "<p>Checking in after your first week.</p>",
		FromName:       "RelayCRM",
		FromAddress:    "hello@relaycrm.example",
		Active:         true,
	}
	if err := ruleStore.CreateRule(ctx, followUp); err != nil {
		log.Fatalf("create follow-up rule: %v", err)
	}

	dep := &domain.RuleDependency{
		OrganizationID:  orgID,
		RuleID:          followUp.ID,
		DependsOnRuleID: welcome.ID,
		Type:            domain.DepRequired,
		DelayMinutes:    7 * 24 * 60,
	}
	if err := ruleStore.AddDependency(ctx, dep); err != nil {
		log.Fatalf("add dependency: %v", err)
	}

	schedule := &domain.WeeklySchedule{
		OrganizationID: orgID,
		Timezone:       "America/New_York",
		Enforced:       true,
	}
	for day := 1; day <= 5; day++ {
		schedule.Days[day] = domain.DayHours{DayOfWeek: day, Enabled: true, Start: "09:00", End: "17:00"}
	}
	if err := hourStore.SaveSchedule(ctx, schedule); err != nil {
		log.Fatalf("save schedule: %v", err)
	}

	names := []string{"Ada", "Grace", "Edsger"}
	for i, name := range names {
		c := &domain.Contact{
			OrganizationID: orgID,
			Email:          fmt.Sprintf("%s@example.com", name),
			FirstName:      name,
			Subscribed:     true,
		}
		if err := contactStore.UpsertContact(ctx, c); err != nil {
			log.Fatalf("upsert contact %d: %v", i, err)
		}
	}

	fmt.Printf("Seeded org %s: rules %s -> %s, %d contacts\n", orgID, welcome.ID, followUp.ID, len(names))
}
