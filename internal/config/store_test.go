package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/canvasgate/canvasgate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreOptions{}) // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createBoard(t *testing.T, s *Store, owner string) *model.Board {
	t.Helper()
	b := &model.Board{OwnerID: owner, Title: "Plans"}
	if err := s.CreateBoard(context.Background(), b); err != nil {
		t.Fatalf("CreateBoard: %v", err)
	}
	return b
}

func TestNewStoreUnsupportedDriver(t *testing.T) {
	if _, err := NewStore(StoreOptions{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestNewStoreDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s, err := NewStore(StoreOptions{DataDir: dir})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, "canvasgate.db")); err != nil {
		t.Errorf("expected database file: %v", err)
	}

	// Migrations are idempotent.
	if err := s.migrate(); err != nil {
		t.Errorf("second migrate: %v", err)
	}
}

func TestMySQLDSNForcesParseTime(t *testing.T) {
	dsn, err := mysqlDSN("user:pw@tcp(localhost:3306)/canvas")
	if err != nil {
		t.Fatalf("mysqlDSN: %v", err)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("dsn %q missing parseTime", dsn)
	}
}

func TestBoardAndNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := createBoard(t, s, "user_a")
	if b.ID == "" {
		t.Fatal("expected generated board ID")
	}

	got, err := s.GetBoard(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBoard: %v", err)
	}
	if got.OwnerID != "user_a" || got.Title != "Plans" || got.IsPublic {
		t.Errorf("unexpected board: %+v", got)
	}

	if _, err := s.GetBoard(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBoard missing: got %v, want ErrNotFound", err)
	}

	n := &model.Node{BoardID: b.ID, Role: model.NodeRoleUser, Content: "hello"}
	if err := s.CreateNode(ctx, n); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := s.UpdateNodeContent(ctx, n.ID, "partial", 3, true); err != nil {
		t.Fatalf("UpdateNodeContent: %v", err)
	}
	gotNode, err := s.GetNode(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if gotNode.Content != "partial" || gotNode.Tokens != 3 || !gotNode.Streaming {
		t.Errorf("unexpected node: %+v", gotNode)
	}

	if err := s.UpdateNodeContent(ctx, "missing", "x", 0, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateNodeContent missing: got %v", err)
	}

	if err := s.FinishNode(ctx, n.ID, "final", 7, model.ProviderAnthropic, "claude-3-5-haiku-latest"); err != nil {
		t.Fatalf("FinishNode: %v", err)
	}
	gotNode, err = s.GetNode(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if gotNode.Content != "final" || gotNode.Tokens != 7 || gotNode.Streaming ||
		gotNode.Provider != model.ProviderAnthropic || gotNode.Model != "claude-3-5-haiku-latest" {
		t.Errorf("unexpected finished node: %+v", gotNode)
	}
	if err := s.FinishNode(ctx, "missing", "x", 0, model.ProviderOpenAI, "m"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishNode missing: got %v", err)
	}

	nodes, err := s.ListNodes(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Errorf("got %d nodes, want 1", len(nodes))
	}

	if err := s.SetBoardDefaultCredential(ctx, b.ID, "cred_1"); err != nil {
		t.Fatalf("SetBoardDefaultCredential: %v", err)
	}
	got, _ = s.GetBoard(ctx, b.ID)
	if got.DefaultCredentialID != "cred_1" {
		t.Errorf("default credential = %q", got.DefaultCredentialID)
	}
}

func TestNodeRequiresBoard(t *testing.T) {
	s := newTestStore(t)
	n := &model.Node{BoardID: "nope", Role: model.NodeRoleUser, Content: "x"}
	if err := s.CreateNode(context.Background(), n); err == nil {
		t.Fatal("expected foreign key error")
	}
}

func TestShareGrants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := createBoard(t, s, "owner")

	past := time.Now().Add(-time.Hour)
	g1 := &model.ShareGrant{BoardID: b.ID, SubjectID: "guest", Capability: model.CapabilityView, CreatedBy: "owner", ExpiresAt: &past}
	g2 := &model.ShareGrant{BoardID: b.ID, SubjectID: "guest", Capability: model.CapabilityComment, CreatedBy: "owner"}
	for _, g := range []*model.ShareGrant{g1, g2} {
		if err := s.CreateShareGrant(ctx, g); err != nil {
			t.Fatalf("CreateShareGrant: %v", err)
		}
	}

	grants, err := s.ListShareGrants(ctx, b.ID, "guest")
	if err != nil {
		t.Fatalf("ListShareGrants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("got %d grants, want 2", len(grants))
	}

	var sawExpiry bool
	for _, g := range grants {
		if g.ExpiresAt != nil {
			sawExpiry = true
			if !g.Expired(time.Now()) {
				t.Error("expected past grant to read back as expired")
			}
		}
	}
	if !sawExpiry {
		t.Error("expires_at did not round-trip")
	}

	if err := s.DeleteShareGrant(ctx, g1.ID); err != nil {
		t.Fatalf("DeleteShareGrant: %v", err)
	}
	if _, err := s.GetShareGrant(ctx, g1.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetShareGrant after delete: %v", err)
	}
	if err := s.DeleteShareGrant(ctx, g1.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestCredentialLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &model.Credential{
		OwnerID:    "user_a",
		Provider:   model.ProviderOpenAI,
		Nickname:   "work",
		Last4:      "wxyz",
		Ciphertext: []byte{0x00, 0x01, 0xfe, 0xff},
	}
	if err := s.CreateCredential(ctx, c); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	if c.Status != model.CredentialActive {
		t.Errorf("status = %q, want active", c.Status)
	}

	got, err := s.GetCredential(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if string(got.Ciphertext) != string(c.Ciphertext) {
		t.Errorf("ciphertext did not round-trip: %x", got.Ciphertext)
	}

	active, err := s.FindActiveCredential(ctx, "user_a", model.ProviderOpenAI)
	if err != nil {
		t.Fatalf("FindActiveCredential: %v", err)
	}
	if active.ID != c.ID {
		t.Errorf("active id = %q, want %q", active.ID, c.ID)
	}
	if _, err := s.FindActiveCredential(ctx, "user_a", model.ProviderGoogle); !errors.Is(err, ErrNotFound) {
		t.Errorf("other provider: got %v, want ErrNotFound", err)
	}

	if err := s.RevokeCredential(ctx, c.ID); err != nil {
		t.Fatalf("RevokeCredential: %v", err)
	}
	if err := s.RevokeCredential(ctx, c.ID); err != nil {
		t.Errorf("second revoke should be a no-op: %v", err)
	}
	if err := s.RevokeCredential(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoke missing: %v", err)
	}

	got, _ = s.GetCredential(ctx, c.ID)
	if got.Status != model.CredentialRevoked || got.RevokedAt == nil {
		t.Errorf("expected revoked credential, got %+v", got)
	}
	if _, err := s.FindActiveCredential(ctx, "user_a", model.ProviderOpenAI); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoked credential still active: %v", err)
	}

	list, err := s.ListCredentials(ctx, "user_a")
	if err != nil {
		t.Fatalf("ListCredentials: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("revoked credentials must be retained, got %d", len(list))
	}
}

func TestUsageLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)

	events := []*model.UsageEvent{
		{SubjectID: "a", ResourceID: "n1", Provider: model.ProviderOpenAI, Model: "gpt-4o-mini", InputTokens: 10, OutputTokens: 20, CostEstimate: 0.5, Status: model.UsageCompleted},
		{SubjectID: "a", ResourceID: "n1", Provider: model.ProviderOpenAI, Model: "gpt-4o-mini", Status: model.UsageFailed},
		{SubjectID: "b", ResourceID: "n2", Provider: model.ProviderAnthropic, Model: "claude-3-5-haiku-latest", InputTokens: 1, OutputTokens: 1, CostEstimate: 0.1, Status: model.UsageCompleted},
	}
	for _, e := range events {
		if err := s.InsertUsageEvent(ctx, e); err != nil {
			t.Fatalf("InsertUsageEvent: %v", err)
		}
	}

	sum, err := s.SummarizeUsage(ctx, "a", start)
	if err != nil {
		t.Fatalf("SummarizeUsage: %v", err)
	}
	if sum.Requests != 2 || sum.Failed != 1 || sum.InputTokens != 10 || sum.OutputTokens != 20 || sum.CostEstimate != 0.5 {
		t.Errorf("unexpected summary: %+v", sum)
	}

	all, err := s.SummarizeUsage(ctx, "", time.Time{})
	if err != nil {
		t.Fatalf("SummarizeUsage all: %v", err)
	}
	if all.Requests != 3 {
		t.Errorf("all requests = %d, want 3", all.Requests)
	}

	future, err := s.SummarizeUsage(ctx, "a", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SummarizeUsage future: %v", err)
	}
	if future.Requests != 0 || future.CostEstimate != 0 {
		t.Errorf("expected empty summary, got %+v", future)
	}

	list, err := s.ListUsageEvents(ctx, "a", time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListUsageEvents: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("got %d events, want 2", len(list))
	}
}

func TestAuditLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &model.AuditEntry{SubjectID: "a", ResourceType: "credential", ResourceID: "c1", Action: "decrypt", Success: false}
	if err := s.InsertAuditEntry(ctx, e); err != nil {
		t.Fatalf("InsertAuditEntry: %v", err)
	}

	entries, err := s.ListAuditEntries(ctx, "a", time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Success || entries[0].Action != "decrypt" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestSettingsAndThresholds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetThresholds(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetThresholds before set: %v", err)
	}

	th := model.DefaultThresholds()
	th.RequestsPerHour = 250
	if err := s.SetThresholds(ctx, th); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	th.CostPerDay = 75
	if err := s.SetThresholds(ctx, th); err != nil {
		t.Fatalf("SetThresholds overwrite: %v", err)
	}

	got, err := s.GetThresholds(ctx)
	if err != nil {
		t.Fatalf("GetThresholds: %v", err)
	}
	if *got != th {
		t.Errorf("got %+v, want %+v", *got, th)
	}
}
