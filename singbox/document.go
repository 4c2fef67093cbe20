// Package singbox owns everything that touches the sing-box daemon:
// the routing document and its locked load/mutate/save path, the
// systemctl control surface, and the v2ray-api stats client.
package singbox

import (
	"encoding/json"

	"github.com/mmvpn/warden/util/json_util"
)

// Inbound types and tags the provisioning layer routes by.
const (
	TypeVLESS       = "vless"
	TypeShadowsocks = "shadowsocks"
	TypeTuic        = "tuic"

	TagReality        = "vless-in"
	TagRealityLimited = "vless-limited-in"
	TagTuic           = "tuic-in"
	TagPlain          = "vless-plain-in"
)

// Document is the daemon's routing configuration. Only the parts this
// process mutates are modelled; everything else passes through
// load/save untouched as raw JSON.
type Document struct {
	Log          json_util.RawMessage `json:"log,omitempty"`
	DNS          json_util.RawMessage `json:"dns,omitempty"`
	NTP          json_util.RawMessage `json:"ntp,omitempty"`
	Certificate  json_util.RawMessage `json:"certificate,omitempty"`
	Endpoints    json_util.RawMessage `json:"endpoints,omitempty"`
	Inbounds     []Inbound            `json:"inbounds"`
	Outbounds    json_util.RawMessage `json:"outbounds,omitempty"`
	Route        json_util.RawMessage `json:"route,omitempty"`
	Services     json_util.RawMessage `json:"services,omitempty"`
	Experimental *Experimental        `json:"experimental,omitempty"`
}

// DefaultDocument is what Load returns when the live file does not
// exist yet. Provisioning against it fails section lookups, which is
// the correct surface for a daemon that was never installed.
func DefaultDocument() *Document {
	return &Document{Inbounds: []Inbound{}}
}

// FindByTag returns the inbound with the given tag, or nil.
func (d *Document) FindByTag(tag string) *Inbound {
	for i := range d.Inbounds {
		if d.Inbounds[i].Tag == tag {
			return &d.Inbounds[i]
		}
	}
	return nil
}

// FirstByType returns the first inbound of the given type, or nil.
func (d *Document) FirstByType(typ string) *Inbound {
	for i := range d.Inbounds {
		if d.Inbounds[i].Type == typ {
			return &d.Inbounds[i]
		}
	}
	return nil
}

// AllowStatsUser adds id to the v2ray-api stats allow-list if the
// document has one. Returns true if the document changed.
func (d *Document) AllowStatsUser(id string) bool {
	stats := d.statsBlock()
	if stats == nil {
		return false
	}
	for _, u := range stats.Users {
		if u == id {
			return false
		}
	}
	stats.Users = append(stats.Users, id)
	return true
}

// RemoveStatsUser strips id from the stats allow-list, if present.
func (d *Document) RemoveStatsUser(id string) bool {
	stats := d.statsBlock()
	if stats == nil {
		return false
	}
	kept := stats.Users[:0]
	changed := false
	for _, u := range stats.Users {
		if u == id {
			changed = true
			continue
		}
		kept = append(kept, u)
	}
	stats.Users = kept
	return changed
}

func (d *Document) statsBlock() *V2RayAPIStats {
	if d.Experimental == nil || d.Experimental.V2RayAPI == nil {
		return nil
	}
	return d.Experimental.V2RayAPI.Stats
}

// Experimental models the daemon's experimental block far enough to
// reach the v2ray-api stats allow-list.
type Experimental struct {
	V2RayAPI  *V2RayAPI            `json:"v2ray_api,omitempty"`
	CacheFile json_util.RawMessage `json:"cache_file,omitempty"`
	ClashAPI  json_util.RawMessage `json:"clash_api,omitempty"`
}

type V2RayAPI struct {
	Listen string         `json:"listen,omitempty"`
	Stats  *V2RayAPIStats `json:"stats,omitempty"`
}

type V2RayAPIStats struct {
	Enabled   bool     `json:"enabled,omitempty"`
	Inbounds  []string `json:"inbounds,omitempty"`
	Outbounds []string `json:"outbounds,omitempty"`
	Users     []string `json:"users,omitempty"`
}

// User is one credential entry in an inbound's users list. The field
// subset in use depends on the inbound type: uuid+flow for REALITY,
// password for shadowsocks, uuid+password for TUIC, uuid for plain.
type User struct {
	UUID     string `json:"uuid,omitempty"`
	Flow     string `json:"flow,omitempty"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Inbound is one listener section. Type, tag, port and users are
// modelled; protocol-specific fields (method, transport, tls, ...)
// are preserved verbatim so a save never drops them.
type Inbound struct {
	Type       string
	Tag        string
	ListenPort int
	Users      []User

	hasUsers bool
	extra    map[string]json.RawMessage
}

func (i *Inbound) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &i.Type); err != nil {
			return err
		}
		delete(raw, "type")
	}
	if v, ok := raw["tag"]; ok {
		if err := json.Unmarshal(v, &i.Tag); err != nil {
			return err
		}
		delete(raw, "tag")
	}
	if v, ok := raw["listen_port"]; ok {
		if err := json.Unmarshal(v, &i.ListenPort); err != nil {
			return err
		}
		delete(raw, "listen_port")
	}
	if v, ok := raw["users"]; ok {
		if err := json.Unmarshal(v, &i.Users); err != nil {
			return err
		}
		i.hasUsers = true
		delete(raw, "users")
	}

	i.extra = raw
	return nil
}

func (i Inbound) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(i.extra)+4)
	for k, v := range i.extra {
		out[k] = v
	}

	typ, err := json.Marshal(i.Type)
	if err != nil {
		return nil, err
	}
	out["type"] = typ

	if i.Tag != "" {
		tag, err := json.Marshal(i.Tag)
		if err != nil {
			return nil, err
		}
		out["tag"] = tag
	}
	if i.ListenPort != 0 {
		port, err := json.Marshal(i.ListenPort)
		if err != nil {
			return nil, err
		}
		out["listen_port"] = port
	}
	if i.hasUsers || len(i.Users) > 0 {
		users, err := json.Marshal(i.Users)
		if err != nil {
			return nil, err
		}
		out["users"] = users
	}

	return json.Marshal(out)
}

// AddUser appends an entry, initializing a missing users array.
func (i *Inbound) AddUser(u User) {
	if i.Users == nil {
		i.Users = []User{}
	}
	i.Users = append(i.Users, u)
	i.hasUsers = true
}

// HasUUID reports whether an entry with the given uuid exists.
func (i *Inbound) HasUUID(uuid string) bool {
	for _, u := range i.Users {
		if u.UUID == uuid {
			return true
		}
	}
	return false
}

// HasPassword reports whether an entry with the given password exists.
func (i *Inbound) HasPassword(password string) bool {
	for _, u := range i.Users {
		if u.Password == password {
			return true
		}
	}
	return false
}

// RemoveUUID filters out all entries with the given uuid. Returns true
// if anything was removed.
func (i *Inbound) RemoveUUID(uuid string) bool {
	return i.removeMatching(func(u User) bool { return u.UUID == uuid })
}

// RemovePassword filters out all entries with the given password.
func (i *Inbound) RemovePassword(password string) bool {
	return i.removeMatching(func(u User) bool { return u.Password == password })
}

func (i *Inbound) removeMatching(match func(User) bool) bool {
	if len(i.Users) == 0 {
		return false
	}
	kept := i.Users[:0]
	changed := false
	for _, u := range i.Users {
		if match(u) {
			changed = true
			continue
		}
		kept = append(kept, u)
	}
	i.Users = kept
	return changed
}
