package models

import "time"

// PresenceRecord is the online/last-seen state of an identity.
// Online == true implies LastSeen == nil; Online == false implies LastSeen
// holds the time of the last disconnect.
type PresenceRecord struct {
	Identity string     `gorm:"primaryKey;type:text" json:"identity"`
	Online   bool       `gorm:"not null" json:"online"`
	LastSeen *time.Time `json:"last_seen"`
	// Version increases by one on every transition of this identity within
	// one process.
	Version uint64 `gorm:"not null" json:"version"`
	// ChangedAt is the time of the transition in unix microseconds. The
	// durable mirror orders writes by it first and by Version second, so a
	// restarted process, whose versions start again at one, still wins.
	ChangedAt int64     `gorm:"not null;default:0" json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// StatusChanged returns the broadcast form of the record.
func (r PresenceRecord) StatusChanged() StatusChanged {
	return StatusChanged{
		Identity:  r.Identity,
		Online:    r.Online,
		LastSeen:  r.LastSeen,
		Version:   r.Version,
		ChangedAt: r.ChangedAt,
	}
}
