package capability

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShirasawaTopaz/order/internal/encoding"
)

// cacheFile is the on-disk schema of .order/capabilities.json.
type cacheFile struct {
	Version uint32       `json:"version"`
	Entries []cacheEntry `json:"entries"`
}

type cacheEntry struct {
	Provider     string   `json:"provider"`
	APIURL       string   `json:"api_url"`
	Model        string   `json:"model"`
	Capabilities Caps     `json:"capabilities"`
	Reason       *string  `json:"reason,omitempty"`
	FirstSeenAt  *string  `json:"first_seen_at,omitempty"`
	LastSeenAt   *string  `json:"last_seen_at,omitempty"`
	TTL          *uint64  `json:"ttl,omitempty"`
	Confidence   *float32 `json:"confidence,omitempty"`
	Source       *Source  `json:"source,omitempty"`
	// UpdatedAt is a legacy v1 field used as a fallback when the newer
	// first_seen_at/last_seen_at fields are absent.
	UpdatedAt *string `json:"updated_at,omitempty"`
}

func (e *cacheEntry) matches(provider, apiURL, model string) bool {
	return strings.EqualFold(e.Provider, provider) &&
		strings.EqualFold(e.APIURL, apiURL) &&
		strings.EqualFold(e.Model, model)
}

func (e *cacheEntry) effectiveTTLSeconds() uint64 {
	ttl := uint64(defaultCacheTTLSeconds)
	if e.TTL != nil {
		ttl = *e.TTL
	}
	return clampTTLSeconds(ttl)
}

func (e *cacheEntry) effectiveConfidence() float32 {
	confidence := float32(defaultCacheConfidence)
	if e.Confidence != nil {
		confidence = *e.Confidence
	}
	return clampFloat32(confidence, 0, 1)
}

func (e *cacheEntry) effectiveSource() Source {
	if e.Source != nil {
		return *e.Source
	}
	return SourceUnknown
}

func (e *cacheEntry) effectiveFirstSeenText(nowText string) string {
	for _, candidate := range []*string{e.FirstSeenAt, e.UpdatedAt, e.LastSeenAt} {
		if candidate != nil && *candidate != "" {
			return *candidate
		}
	}
	return nowText
}

func (e *cacheEntry) effectiveLastSeenText(nowText string) string {
	for _, candidate := range []*string{e.LastSeenAt, e.UpdatedAt, e.FirstSeenAt} {
		if candidate != nil && *candidate != "" {
			return *candidate
		}
	}
	return nowText
}

func (e *cacheEntry) toSnapshot(now time.Time) CacheSnapshot {
	nowText := now.Format(time.RFC3339)
	firstSeenAt := e.effectiveFirstSeenText(nowText)
	lastSeenAt := e.effectiveLastSeenText(nowText)
	ttlSeconds := e.effectiveTTLSeconds()
	source := e.effectiveSource()
	confidence := e.effectiveConfidence()

	var reason string
	if e.Reason != nil {
		reason = *e.Reason
	}

	snapshot := CacheSnapshot{
		Provider:     e.Provider,
		APIURL:       e.APIURL,
		Model:        e.Model,
		Capabilities: e.Capabilities,
		Reason:       reason,
		FirstSeenAt:  firstSeenAt,
		LastSeenAt:   lastSeenAt,
		TTLSeconds:   ttlSeconds,
		Confidence:   confidence,
		Source:       source,
	}

	lastSeen, err := time.Parse(time.RFC3339, lastSeenAt)
	if err != nil {
		return snapshot
	}
	expiresAt := lastSeen.Add(time.Duration(ttlSeconds) * time.Second)
	snapshot.ExpiresAt = expiresAt.Format(time.RFC3339)
	snapshot.Expired = now.After(expiresAt)
	if remaining := expiresAt.Sub(now); remaining > 0 {
		snapshot.RemainingTTLSeconds = uint64(remaining.Seconds())
	}
	return snapshot
}

func cachePath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".order", "capabilities.json")
}

func loadCacheFile(workspaceRoot string) (cacheFile, error) {
	path := cachePath(workspaceRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cacheFile{}, fmt.Errorf("create capability cache dir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cacheFile{Version: cacheFileVersion}, nil
	}

	text, _, err := encoding.ReadUTF8Text(path)
	if err != nil {
		return cacheFile{}, fmt.Errorf("read capability cache: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return cacheFile{Version: cacheFileVersion}, nil
	}

	var file cacheFile
	if err := json.Unmarshal([]byte(text), &file); err != nil {
		return cacheFile{}, fmt.Errorf("parse capability cache json: %w", err)
	}
	if file.Version == 0 {
		file.Version = cacheFileVersion
	}
	return file, nil
}

func saveCacheFile(workspaceRoot string, file cacheFile) error {
	path := cachePath(workspaceRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create capability cache dir: %w", err)
	}

	normalized := file
	normalized.Version = cacheFileVersion

	body, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize capability cache json: %w", err)
	}
	text := string(body) + "\n"

	if _, err := encoding.WriteUTF8Text(path, text); err != nil {
		return fmt.Errorf("write capability cache: %w", err)
	}
	return nil
}

func (f *cacheFile) getSnapshot(provider, apiURL, model string, now time.Time) (CacheSnapshot, bool) {
	for i := range f.Entries {
		if f.Entries[i].matches(provider, apiURL, model) {
			return f.Entries[i].toSnapshot(now), true
		}
	}
	return CacheSnapshot{}, false
}

func (f *cacheFile) upsert(provider, apiURL, model string, caps Caps, ctx WritebackContext) {
	now := time.Now().Format(time.RFC3339)
	ttl := clampTTLSeconds(ctx.TTLSeconds)
	confidence := clampFloat32(ctx.Confidence, 0, 1)
	reason := ctx.Reason
	source := ctx.Source

	for i := range f.Entries {
		e := &f.Entries[i]
		if !e.matches(provider, apiURL, model) {
			continue
		}
		firstSeen := e.effectiveFirstSeenText(now)
		e.Capabilities = caps
		e.Reason = &reason
		e.FirstSeenAt = &firstSeen
		e.LastSeenAt = &now
		e.TTL = &ttl
		e.Confidence = &confidence
		e.Source = &source
		e.UpdatedAt = &now
		return
	}

	nowCopy := now
	f.Entries = append(f.Entries, cacheEntry{
		Provider:     provider,
		APIURL:       apiURL,
		Model:        model,
		Capabilities: caps,
		Reason:       &reason,
		FirstSeenAt:  &nowCopy,
		LastSeenAt:   &nowCopy,
		TTL:          &ttl,
		Confidence:   &confidence,
		Source:       &source,
		UpdatedAt:    &nowCopy,
	})
}

func (f *cacheFile) removeMatching(provider, model *string) int {
	before := len(f.Entries)
	kept := f.Entries[:0]
	for _, e := range f.Entries {
		providerMatch := provider == nil || strings.EqualFold(e.Provider, *provider)
		modelMatch := model == nil || strings.EqualFold(e.Model, *model)
		if providerMatch && modelMatch {
			continue
		}
		kept = append(kept, e)
	}
	f.Entries = kept
	return before - len(f.Entries)
}
