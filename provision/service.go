// Package provision reconciles credentials into the daemon's routing
// document: protocol-aware add/remove with tier routing, a strict
// one-section-per-family invariant, and mandatory read-back
// verification after every save.
package provision

import (
	"errors"
	"fmt"

	"github.com/mmvpn/warden/config"
	"github.com/mmvpn/warden/database/model"
	"github.com/mmvpn/warden/logger"
	"github.com/mmvpn/warden/singbox"
)

var (
	// ErrSectionMissing means the document has no inbound able to
	// serve the requested protocol. Provisioning cannot proceed and
	// the failure must be surfaced, not skipped.
	ErrSectionMissing = errors.New("no inbound section for protocol")

	// ErrVerification means a save reported success but the read-back
	// shows the expected entry state is absent. The write path is not
	// atomic, so this is a correctness emergency rather than an IO
	// error, and it is never silently retried.
	ErrVerification = errors.New("config verification failed after save")
)

// DocumentStore is the locked load/save surface of the routing
// document (singbox.ConfigStore in production).
type DocumentStore interface {
	Load() (*singbox.Document, error)
	Save(doc *singbox.Document) error
	WithLock(fn func() error) error
}

// Service provisions credentials into the routing document and tells
// the daemon to pick up changes.
type Service struct {
	store        DocumentStore
	ctrl         singbox.Reloader
	speedCeiling float64
}

func NewService(store DocumentStore, ctrl singbox.Reloader) *Service {
	return &Service{
		store:        store,
		ctrl:         ctrl,
		speedCeiling: config.GetSpeedLimitCeilingMbps(),
	}
}

// AddUser inserts the key into its target inbound. The whole
// load-mutate-save-verify sequence runs under the document lock; the
// daemon reload happens outside it, and only when something changed.
// Re-adding an already-provisioned key is a verified no-op.
func (s *Service) AddUser(key *model.Key) error {
	changed := false
	err := s.store.WithLock(func() error {
		var err error
		changed, err = s.addLocked(key)
		return err
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.ctrl.Reload()
}

// Per-protocol variants, kept for callers that think in protocols.
// They differ from AddUser only in forcing the protocol field.

func (s *Service) AddRealityUser(key *model.Key) error {
	key.Protocol = model.RealityTCP
	return s.AddUser(key)
}

func (s *Service) AddShadowsocksUser(key *model.Key) error {
	key.Protocol = model.Shadowsocks
	return s.AddUser(key)
}

func (s *Service) AddTuicUser(key *model.Key) error {
	key.Protocol = model.Tuic
	return s.AddUser(key)
}

func (s *Service) AddPlainUser(key *model.Key) error {
	key.Protocol = model.TLSTCP
	return s.AddUser(key)
}

func (s *Service) addLocked(key *model.Key) (bool, error) {
	doc, err := s.store.Load()
	if err != nil {
		return false, err
	}

	target, err := s.targetSection(doc, key)
	if err != nil {
		return false, err
	}
	targetTag := target.Tag

	// A key moving tiers must leave every other section of its family
	// first, or ghost entries accumulate.
	changed := false
	for idx := range doc.Inbounds {
		in := &doc.Inbounds[idx]
		if in == target || in.Type != target.Type {
			continue
		}
		if removeEntry(in, key) {
			logger.Debugf("stripped key %s from inbound %q", key.Id, in.Tag)
			changed = true
		}
	}

	if !hasEntry(target, key) {
		target.AddUser(entryFor(key))
		changed = true
	}

	if key.Protocol.Accounted() && doc.AllowStatsUser(key.Id) {
		changed = true
	}

	if !changed {
		logger.Debugf("key %s already provisioned in %q", key.Id, targetTag)
		return false, nil
	}

	if err := s.store.Save(doc); err != nil {
		return false, err
	}

	verify, err := s.store.Load()
	if err != nil {
		return false, err
	}
	verified := s.findVerifySection(verify, key, targetTag)
	if verified == nil || !hasEntry(verified, key) {
		logger.Criticalf("key %s (%s) not found in inbound %q after save", key.Id, key.Username, targetTag)
		return false, ErrVerification
	}

	logger.Infof("key %s (%s) provisioned in inbound %q", key.Id, key.Username, verified.Tag)
	return true, nil
}

// RemoveUser strips the key from every section where it matches and
// from the stats allow-list. An absent key is a no-op returning false,
// not an error.
func (s *Service) RemoveUser(key *model.Key) (bool, error) {
	removed := false
	err := s.store.WithLock(func() error {
		var err error
		removed, err = s.removeLocked(key)
		return err
	})
	if err != nil {
		return removed, err
	}
	if !removed {
		return false, nil
	}
	return true, s.ctrl.Reload()
}

func (s *Service) removeLocked(key *model.Key) (bool, error) {
	doc, err := s.store.Load()
	if err != nil {
		return false, err
	}

	changed := false
	for idx := range doc.Inbounds {
		if removeEntry(&doc.Inbounds[idx], key) {
			changed = true
		}
	}
	if doc.RemoveStatsUser(key.Id) {
		changed = true
	}

	if !changed {
		return false, nil
	}

	if err := s.store.Save(doc); err != nil {
		return false, err
	}

	verify, err := s.store.Load()
	if err != nil {
		return false, err
	}
	for idx := range verify.Inbounds {
		if hasEntry(&verify.Inbounds[idx], key) {
			logger.Criticalf("key %s still present in inbound %q after removal", key.Id, verify.Inbounds[idx].Tag)
			return false, ErrVerification
		}
	}

	logger.Infof("key %s (%s) removed from config", key.Id, key.Username)
	return true, nil
}

// findVerifySection locates, in a freshly loaded document, the section
// the entry was written to. Sections without tags (untagged
// shadowsocks) are rediscovered by type.
func (s *Service) findVerifySection(doc *singbox.Document, key *model.Key, targetTag string) *singbox.Inbound {
	if targetTag != "" {
		return doc.FindByTag(targetTag)
	}
	_, typ := s.route(key)
	return doc.FirstByType(typ)
}

// targetSection resolves the inbound a key belongs in. Tag lookups
// fall back to the first section of the matching type so documents
// from before the tier split keep working.
func (s *Service) targetSection(doc *singbox.Document, key *model.Key) (*singbox.Inbound, error) {
	tag, typ := s.route(key)

	if tag != "" {
		if in := doc.FindByTag(tag); in != nil {
			return in, nil
		}
		if in := doc.FirstByType(typ); in != nil {
			logger.Warningf("inbound tag %q missing, falling back to first %s inbound %q", tag, typ, in.Tag)
			return in, nil
		}
	} else if typ != "" {
		if in := doc.FirstByType(typ); in != nil {
			return in, nil
		}
	}

	return nil, fmt.Errorf("%w %s", ErrSectionMissing, key.Protocol)
}

// route maps (protocol, speed limit) to the section discovery key.
// A non-zero speed limit at or below the ceiling lands on the
// rate-limited inbound instead of the default one.
func (s *Service) route(key *model.Key) (tag string, typ string) {
	switch key.Protocol {
	case model.RealityTCP:
		if key.SpeedLimitMbps > 0 && key.SpeedLimitMbps <= s.speedCeiling {
			return singbox.TagRealityLimited, singbox.TypeVLESS
		}
		return singbox.TagReality, singbox.TypeVLESS
	case model.Shadowsocks, model.LegacyShared:
		// Shadowsocks sections are discovered by type, as the original
		// deployments never tagged them.
		return "", singbox.TypeShadowsocks
	case model.Tuic:
		return singbox.TagTuic, singbox.TypeTuic
	case model.TLSTCP:
		return singbox.TagPlain, singbox.TypeVLESS
	}
	return "", ""
}

// entryFor builds the protocol-appropriate users entry.
func entryFor(key *model.Key) singbox.User {
	switch key.Protocol {
	case model.Shadowsocks, model.LegacyShared:
		return singbox.User{Password: key.Id, Name: key.Username}
	case model.Tuic:
		return singbox.User{UUID: key.Id, Password: key.Id, Name: key.Username}
	case model.TLSTCP:
		return singbox.User{UUID: key.Id, Name: key.Username}
	default:
		return singbox.User{UUID: key.Id, Flow: "xtls-rprx-vision", Name: key.Username}
	}
}

func hasEntry(in *singbox.Inbound, key *model.Key) bool {
	if matchByPassword(key) {
		return in.HasPassword(key.Id)
	}
	return in.HasUUID(key.Id)
}

func removeEntry(in *singbox.Inbound, key *model.Key) bool {
	if matchByPassword(key) {
		return in.RemovePassword(key.Id)
	}
	return in.RemoveUUID(key.Id)
}

func matchByPassword(key *model.Key) bool {
	return key.Protocol == model.Shadowsocks || key.Protocol == model.LegacyShared
}
