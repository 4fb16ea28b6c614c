package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// AutoSkipConditions decide when a configured stage is left out of a new workflow.
type AutoSkipConditions struct {
	SkipIfRequesterIsApprover bool `json:"skip_if_requester_is_approver" yaml:"skip_if_requester_is_approver"`
}

// StageConfig configures one approval step.
type StageConfig struct {
	Stage           int                `json:"stage" yaml:"stage"`
	Name            string             `json:"name" yaml:"name"`
	ApproverEmail   string             `json:"approver_email" yaml:"approver_email"`
	Required        bool               `json:"required" yaml:"required"`
	EscalationHours int                `json:"escalation_hours" yaml:"escalation_hours"`
	AutoSkip        AutoSkipConditions `json:"auto_skip" yaml:"auto_skip"`
}

// AutoApprovalConfig lists the conditions that bypass the workflow. Every configured condition must hold.
type AutoApprovalConfig struct {
	Enabled               bool     `json:"enabled" yaml:"enabled"`
	MinAdvanceNoticeHours int      `json:"min_advance_notice_hours" yaml:"min_advance_notice_hours"`
	MaxParticipants       int      `json:"max_participants" yaml:"max_participants"`
	PreApprovedCompanies  []string `json:"pre_approved_companies" yaml:"pre_approved_companies"`
}

// WorkflowConfig is the approval configuration for an (activity, location) pair.
// Empty ActivityID or Location act as wildcards.
type WorkflowConfig struct {
	ID                    string             `json:"id" yaml:"id"`
	ActivityID            string             `json:"activity_id" yaml:"activity_id"`
	Location              string             `json:"location" yaml:"location"`
	Stages                []StageConfig      `json:"stages" yaml:"stages"`
	ParallelApproval      bool               `json:"parallel_approval" yaml:"parallel_approval"`
	AutoApproval          AutoApprovalConfig `json:"auto_approval" yaml:"auto_approval"`
	EscalationChain       []string           `json:"escalation_chain" yaml:"escalation_chain"`
	ReminderIntervalHours int                `json:"reminder_interval_hours" yaml:"reminder_interval_hours"`
	MaxReminders          int                `json:"max_reminders" yaml:"max_reminders"`
}

// Validate checks that stage ordinals are positive and unique and that every stage has an approver.
func (c *WorkflowConfig) Validate() error {
	seen := make(map[int]bool, len(c.Stages))
	for _, s := range c.Stages {
		if s.Stage <= 0 {
			return fmt.Errorf("approval: workflow %q: stage ordinal must be positive", c.ID)
		}
		if seen[s.Stage] {
			return fmt.Errorf("approval: workflow %q: duplicate stage %d", c.ID, s.Stage)
		}
		seen[s.Stage] = true
		if strings.TrimSpace(s.ApproverEmail) == "" {
			return fmt.Errorf("approval: workflow %q: stage %d has no approver", c.ID, s.Stage)
		}
	}
	return nil
}

// OrderedStages returns the stages sorted by ordinal.
func (c *WorkflowConfig) OrderedStages() []StageConfig {
	out := append([]StageConfig(nil), c.Stages...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// DefaultWorkflowConfig is used when nothing more specific is configured.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		ID: "default",
		Stages: []StageConfig{
			{
				Stage:           1,
				Name:            "Office Manager Review",
				ApproverEmail:   "office.manager@practice.local",
				Required:        true,
				EscalationHours: 24,
				AutoSkip:        AutoSkipConditions{SkipIfRequesterIsApprover: true},
			},
			{
				Stage:           2,
				Name:            "Physician Approval",
				ApproverEmail:   "physician@practice.local",
				Required:        true,
				EscalationHours: 48,
			},
		},
		AutoApproval: AutoApprovalConfig{
			Enabled:               true,
			MinAdvanceNoticeHours: 72,
		},
		EscalationChain:       []string{"practice.administrator@practice.local", "medical.director@practice.local"},
		ReminderIntervalHours: 12,
		MaxReminders:          3,
	}
}

// ConfigStore resolves the workflow configuration for an activity at a location.
type ConfigStore interface {
	Resolve(ctx context.Context, activityID, location string) (*WorkflowConfig, error)
}

// resolutionOrder is the lookup chain: exact match, activity wildcard location, location wildcard activity.
func resolutionOrder(activityID, location string) [][2]string {
	return [][2]string{
		{activityID, location},
		{activityID, ""},
		{"", location},
	}
}

// StaticConfigStore holds configurations in memory.
type StaticConfigStore struct {
	mu       sync.RWMutex
	configs  map[[2]string]WorkflowConfig
	fallback WorkflowConfig
}

func NewStaticConfigStore(configs ...WorkflowConfig) *StaticConfigStore {
	s := &StaticConfigStore{
		configs:  make(map[[2]string]WorkflowConfig),
		fallback: DefaultWorkflowConfig(),
	}
	for _, c := range configs {
		s.Put(c)
	}
	return s
}

// Put registers a configuration under its (activity, location) key. A config with neither set
// replaces the default.
func (s *StaticConfigStore) Put(cfg WorkflowConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ActivityID == "" && cfg.Location == "" {
		s.fallback = cfg
		return
	}
	s.configs[[2]string{cfg.ActivityID, cfg.Location}] = cfg
}

func (s *StaticConfigStore) Resolve(ctx context.Context, activityID, location string) (*WorkflowConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range resolutionOrder(activityID, location) {
		if key[0] == "" && key[1] == "" {
			continue
		}
		if cfg, ok := s.configs[key]; ok {
			return &cfg, nil
		}
	}
	cfg := s.fallback
	return &cfg, nil
}

type workflowFile struct {
	Workflows []WorkflowConfig `yaml:"workflows"`
}

// ParseWorkflowConfigs decodes a YAML document with a top-level `workflows` list.
func ParseWorkflowConfigs(data []byte) ([]WorkflowConfig, error) {
	var f workflowFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("approval: parse workflow config: %w", err)
	}
	for i := range f.Workflows {
		if err := f.Workflows[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Workflows, nil
}

// LoadStaticConfigStore reads workflow configurations from a YAML file.
func LoadStaticConfigStore(path string) (*StaticConfigStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("approval: read workflow config: %w", err)
	}
	configs, err := ParseWorkflowConfigs(data)
	if err != nil {
		return nil, err
	}
	return NewStaticConfigStore(configs...), nil
}

const redisConfigPrefix = "approval:workflow:"

// RedisConfigStore keeps configurations as JSON so every instance sees administrator edits.
type RedisConfigStore struct {
	client   *redis.Client
	fallback ConfigStore
}

// NewRedisConfigStore falls back to fallback (or the default config) when Redis has no match.
func NewRedisConfigStore(client *redis.Client, fallback ConfigStore) *RedisConfigStore {
	if client == nil {
		panic("approval: redis client cannot be nil")
	}
	if fallback == nil {
		fallback = NewStaticConfigStore()
	}
	return &RedisConfigStore{client: client, fallback: fallback}
}

func redisConfigKey(activityID, location string) string {
	return redisConfigPrefix + activityID + ":" + location
}

// Put stores cfg under its (activity, location) key.
func (s *RedisConfigStore) Put(ctx context.Context, cfg WorkflowConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("approval: marshal workflow config: %w", err)
	}
	if err := s.client.Set(ctx, redisConfigKey(cfg.ActivityID, cfg.Location), payload, 0).Err(); err != nil {
		return fmt.Errorf("approval: store workflow config: %w", err)
	}
	return nil
}

func (s *RedisConfigStore) Resolve(ctx context.Context, activityID, location string) (*WorkflowConfig, error) {
	for _, key := range resolutionOrder(activityID, location) {
		if key[0] == "" && key[1] == "" {
			continue
		}
		raw, err := s.client.Get(ctx, redisConfigKey(key[0], key[1])).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("approval: load workflow config: %w", err)
		}
		var cfg WorkflowConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("approval: decode workflow config: %w", err)
		}
		return &cfg, nil
	}
	return s.fallback.Resolve(ctx, activityID, location)
}

var (
	_ ConfigStore = (*StaticConfigStore)(nil)
	_ ConfigStore = (*RedisConfigStore)(nil)
)
