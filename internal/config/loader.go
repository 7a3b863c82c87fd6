package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	infraerrors "github.com/nestwatch/sentryd/infrastructure/errors"
	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/model"
	"github.com/nestwatch/sentryd/internal/secrets"
)

// MinIntervalSeconds is the floor on scrape intervals; anything lower is
// clamped with a startup warning.
const MinIntervalSeconds = 5

// Settings bundles the global knobs every other component reads out of
// the config document, in ready-to-use Go types.
type Settings struct {
	DefaultInterval    time.Duration
	FailureThreshold   int
	EventStoreCapacity int
	SubscriptionBuffer int
	RedactionTerms     []string
	SecretBackends     []string
}

// Result is what Load produces: an immutable descriptor set plus global
// settings, ready to hand to the Registry and the rest of the supervisor.
// Warnings carries non-fatal findings (clamped intervals, disabled
// devices) for the composition root to surface as startup events.
type Result struct {
	Descriptors []model.Descriptor
	Settings    Settings
	Warnings    []string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadDocument reads and validates the raw config document at path (YAML
// or JSON, sniffed by extension) with defaults applied, but does not yet
// resolve secrets — the secret backends themselves come from the
// document, so the sink is constructed between this call and Build.
func LoadDocument(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, infraerrors.ConfigInvalid(path, err)
	}

	var doc Document
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return Document{}, infraerrors.ConfigInvalid(path, err)
		}
	case ".json":
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Document{}, infraerrors.ConfigInvalid(path, err)
		}
	default:
		return Document{}, infraerrors.ConfigInvalid(path, fmt.Errorf("unrecognized config extension %q (want .yaml, .yml, or .json)", ext))
	}

	if doc.EventStore.Capacity != nil && *doc.EventStore.Capacity <= 0 {
		return Document{}, infraerrors.ConfigInvalid(path, fmt.Errorf("event_store.capacity must be positive, got %d", *doc.EventStore.Capacity))
	}

	doc.ApplyDefaults()

	if err := validate.Struct(doc); err != nil {
		return Document{}, infraerrors.ConfigInvalid(path, err)
	}
	return doc, nil
}

// Build turns a validated document into descriptors and settings,
// resolving credential references through sink. A device whose secret
// cannot be resolved, or whose driver tag is unknown, is not dropped: it
// is kept with Driver="disabled" and a recorded reason so operators see
// it rather than have it silently vanish.
func Build(doc Document, sink *secrets.Sink) (*Result, error) {
	result := &Result{}

	if doc.Scheduler.DefaultIntervalSeconds < MinIntervalSeconds {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("scheduler.default_interval_seconds %d below minimum, clamped to %d",
				doc.Scheduler.DefaultIntervalSeconds, MinIntervalSeconds))
		doc.Scheduler.DefaultIntervalSeconds = MinIntervalSeconds
	}

	descriptors, err := buildDescriptors(doc, sink, result)
	if err != nil {
		return nil, err
	}
	result.Descriptors = descriptors
	result.Settings = Settings{
		DefaultInterval:    time.Duration(doc.Scheduler.DefaultIntervalSeconds) * time.Second,
		FailureThreshold:   doc.Scheduler.FailureThreshold,
		EventStoreCapacity: *doc.EventStore.Capacity,
		SubscriptionBuffer: doc.EventStore.SubscriptionBuffer,
		RedactionTerms:     doc.Logging.RedactionTerms,
		SecretBackends:     doc.Secrets.Backends,
	}
	return result, nil
}

// Load is LoadDocument followed by Build against a caller-supplied sink,
// for callers (tests, reload paths) that already hold one.
func Load(path string, sink *secrets.Sink) (*Result, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return Build(doc, sink)
}

func buildDescriptors(doc Document, sink *secrets.Sink, result *Result) ([]model.Descriptor, error) {
	seen := make(map[string]bool, len(doc.Devices))
	known := knownDriverSet()

	descriptors := make([]model.Descriptor, 0, len(doc.Devices))
	for _, entry := range doc.Devices {
		if seen[entry.ID] {
			return nil, infraerrors.DuplicateID(entry.ID)
		}
		seen[entry.ID] = true

		desc := model.Descriptor{
			ID:             entry.ID,
			Label:          entry.Label,
			Category:       model.Category(entry.Category),
			Driver:         entry.Driver,
			Host:           entry.Host,
			Port:           entry.Port,
			TLS:            entry.TLS,
			CredentialRef:  entry.CredentialRef,
			Controllable:   entry.Controllable,
			SupportsPTZ:    entry.SupportsPTZ,
			SupportsStream: entry.SupportsStream,
			ReadOnly:       entry.ReadOnly,
			Location:       entry.Location,
			Params:         entry.Params,
			Mock:           entry.Mock,
		}
		if entry.IntervalSeconds > 0 {
			interval := entry.IntervalSeconds
			if interval < MinIntervalSeconds {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("device %q interval_seconds %d below minimum, clamped to %d", entry.ID, interval, MinIntervalSeconds))
				interval = MinIntervalSeconds
			}
			desc.IntervalOverride = time.Duration(interval) * time.Second
		}

		if !known[entry.Driver] {
			desc.Disabled = true
			desc.Driver = "disabled"
			desc.DisabledReason = fmt.Sprintf("unknown driver %q", entry.Driver)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("device %q disabled: unknown driver %q", entry.ID, entry.Driver))
		} else if entry.CredentialRef != "" && !entry.Mock {
			if _, err := sink.Resolve(context.Background(), entry.CredentialRef); err != nil {
				desc.Disabled = true
				desc.Driver = "disabled"
				desc.DisabledReason = fmt.Sprintf("credential %q unresolved: %v", entry.CredentialRef, err)
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("device %q disabled: credential %q unresolved", entry.ID, entry.CredentialRef))
			}
		}

		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

func knownDriverSet() map[string]bool {
	set := make(map[string]bool)
	for _, tag := range driver.KnownTags() {
		set[tag] = true
	}
	return set
}
