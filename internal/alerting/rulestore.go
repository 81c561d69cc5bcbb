package alerting

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/datastore/repository"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
)

// RulesFunc receives a user's full set of active rules.
type RulesFunc func(rules []entities.AlertRule)

// RuleStore manages user alert rules and pushes the active set to
// subscribers after every change.
type RuleStore struct {
	repo repository.AlertRuleRepository
	subs *subscribers[[]entities.AlertRule]
	log  logger.Logger

	feedsMu sync.Mutex
	feeds   map[string]*ruleFeed
}

// ruleFeed orders active-set reloads for one user. Every reload takes a
// sequence number before it reads, and a set is delivered only if no later
// reload has been delivered already.
type ruleFeed struct {
	mu        sync.Mutex
	issued    uint64
	delivered uint64
}

// NewRuleStore creates a RuleStore on top of repo.
func NewRuleStore(repo repository.AlertRuleRepository, log logger.Logger) *RuleStore {
	return &RuleStore{
		repo: repo,
		subs:  newSubscribers[[]entities.AlertRule](),
		log:   log,
		feeds: make(map[string]*ruleFeed),
	}
}

// Create validates rule, assigns it a fresh ID and stores it for userID.
// A client-supplied ID is ignored.
func (s *RuleStore) Create(ctx context.Context, userID string, rule *entities.AlertRule) (*entities.AlertRule, error) {
	NormalizeRule(rule)
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	rule.ID = uuid.NewString()
	rule.UserID = userID

	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, storeError(err, "create_rule", rule.ID)
	}
	s.log.Info("alert rule created",
		logger.String("user_id", userID),
		logger.String("rule_id", rule.ID),
		logger.String("parameter", rule.Parameter.String()))
	s.notify(ctx, userID)
	return rule, nil
}

// CreateAll validates every rule and stores them for userID in one
// transaction. Nothing is written unless all rules are valid; the error then
// joins one "rule N" error per invalid rule, numbered from 1.
func (s *RuleStore) CreateAll(ctx context.Context, userID string, rules []*entities.AlertRule) error {
	var errs []error
	for i, rule := range rules {
		NormalizeRule(rule)
		if err := ValidateRule(rule); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i+1, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if len(rules) == 0 {
		return nil
	}

	for _, rule := range rules {
		rule.ID = uuid.NewString()
		rule.UserID = userID
	}
	if err := s.repo.CreateRules(ctx, rules); err != nil {
		return storeError(err, "create_rules", "")
	}
	s.log.Info("alert rules created",
		logger.String("user_id", userID),
		logger.Int("count", len(rules)))
	s.notify(ctx, userID)
	return nil
}

// Update replaces the rule with id. Ownership and creation time are kept.
func (s *RuleStore) Update(ctx context.Context, userID, id string, rule *entities.AlertRule) (*entities.AlertRule, error) {
	NormalizeRule(rule)
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	rule.ID = id
	rule.UserID = userID

	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, storeError(err, "update_rule", id)
	}
	s.notify(ctx, userID)
	return rule, nil
}

// Delete removes the rule with id along with its debounce marks.
func (s *RuleStore) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.DeleteRule(ctx, userID, id); err != nil {
		return storeError(err, "delete_rule", id)
	}
	s.log.Info("alert rule deleted", logger.String("user_id", userID), logger.String("rule_id", id))
	s.notify(ctx, userID)
	return nil
}

// Toggle sets the rule's active flag and returns the updated rule.
func (s *RuleStore) Toggle(ctx context.Context, userID, id string, active bool) (*entities.AlertRule, error) {
	if err := s.repo.ToggleRule(ctx, userID, id, active); err != nil {
		return nil, storeError(err, "toggle_rule", id)
	}
	s.notify(ctx, userID)
	return s.Get(ctx, userID, id)
}

// Get returns one of userID's rules.
func (s *RuleStore) Get(ctx context.Context, userID, id string) (*entities.AlertRule, error) {
	rule, err := s.repo.GetRule(ctx, userID, id)
	if err != nil {
		return nil, storeError(err, "get_rule", id)
	}
	return rule, nil
}

// List returns userID's rules, optionally filtered by active flag.
func (s *RuleStore) List(ctx context.Context, userID string, active *bool) ([]entities.AlertRule, error) {
	rules, err := s.repo.ListRules(ctx, repository.AlertRuleFilter{UserID: userID, Active: active})
	if err != nil {
		return nil, storeError(err, "list_rules", "")
	}
	return rules, nil
}

// SubscribeActive calls fn with userID's active rules now and after every
// change to that user's rules. The returned function stops delivery.
func (s *RuleStore) SubscribeActive(ctx context.Context, userID string, fn RulesFunc) (func(), error) {
	// Register first so a change racing the initial read still reloads.
	unsubscribe := s.subs.add(userID, fn)
	if err := s.reload(ctx, userID); err != nil {
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}

// Subscribers returns the number of live active-rule subscriptions.
func (s *RuleStore) Subscribers() int {
	return s.subs.count()
}

func (s *RuleStore) activeRules(ctx context.Context, userID string) ([]entities.AlertRule, error) {
	active := true
	return s.List(ctx, userID, &active)
}

func (s *RuleStore) feed(userID string) *ruleFeed {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()
	f, ok := s.feeds[userID]
	if !ok {
		f = &ruleFeed{}
		s.feeds[userID] = f
	}
	return f
}

// reload reads userID's active rules and pushes them to subscribers. A set
// read before a newer one that was already delivered is dropped.
func (s *RuleStore) reload(ctx context.Context, userID string) error {
	f := s.feed(userID)
	f.mu.Lock()
	f.issued++
	seq := f.issued
	f.mu.Unlock()

	rules, err := s.activeRules(ctx, userID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if seq <= f.delivered {
		return nil
	}
	f.delivered = seq
	s.subs.publish(userID, rules)
	return nil
}

func (s *RuleStore) notify(ctx context.Context, userID string) {
	if !s.subs.has(userID) {
		return
	}
	if err := s.reload(context.WithoutCancel(ctx), userID); err != nil {
		s.log.Warn("failed to reload active rules for subscribers",
			logger.String("user_id", userID),
			logger.Error(err))
	}
}

// NormalizeRule trims the rule's text fields and lowercases the contact type.
func NormalizeRule(rule *entities.AlertRule) {
	if rule == nil {
		return
	}
	rule.DeviceID = strings.TrimSpace(rule.DeviceID)
	rule.Comparison = strings.TrimSpace(rule.Comparison)
	rule.Contact.Type = strings.ToLower(strings.TrimSpace(rule.Contact.Type))
	rule.Contact.Value = strings.TrimSpace(rule.Contact.Value)
}

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,19}$`)

// ValidateRule checks a rule's user-editable fields. The returned error is
// a validation EnhancedError whose "field" context names the first bad field.
func ValidateRule(rule *entities.AlertRule) error {
	if rule == nil {
		return invalid("rule", "rule is required")
	}
	if !rule.Parameter.Valid() {
		return invalid("parameter", "unknown parameter %q", rule.Parameter)
	}
	if !slices.Contains(comparisons, rule.Comparison) {
		return invalid("comparison", "comparison must be one of %s", strings.Join(comparisons, ", "))
	}
	if math.IsNaN(rule.Threshold) || math.IsInf(rule.Threshold, 0) {
		return invalid("threshold", "threshold must be a finite number")
	}

	switch rule.Contact.Type {
	case ContactEmail, ContactSMS:
	default:
		return invalid("contact.type", "contact type must be one of %s", strings.Join(contactTypes, ", "))
	}
	if rule.Contact.Value == "" {
		return invalid("contact.value", "contact value is required")
	}
	if rule.Contact.Type == ContactEmail && !validEmail(rule.Contact.Value) {
		return invalid("contact.value", "%q is not a valid email address", rule.Contact.Value)
	}
	if rule.Contact.Type == ContactSMS && !phonePattern.MatchString(rule.Contact.Value) {
		return invalid("contact.value", "%q is not a valid phone number", rule.Contact.Value)
	}
	return nil
}

// validEmail accepts a bare address only, not "Name <addr>".
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

func invalid(field, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(component).
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}

// storeError maps repository failures onto categories the API understands.
func storeError(err error, op, ruleID string) error {
	if errors.Is(err, repository.ErrAlertRuleNotFound) {
		return errors.New(err).
			Component(component).
			Category(errors.CategoryNotFound).
			Context("rule_id", ruleID).
			Build()
	}
	return errors.New(err).
		Component(component).
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Context("rule_id", ruleID).
		Build()
}
