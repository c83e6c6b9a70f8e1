package pushsubscription

import "time"

// Subscription is one browser push endpoint registered by a delegator.
type Subscription struct {
	ID          string    `yaml:"id"`
	DelegatorID string    `yaml:"delegator_id"`
	Endpoint    string    `yaml:"endpoint"`
	P256dhKey   string    `yaml:"p256dh_key"`
	AuthKey     string    `yaml:"auth_key"`
	CreatedAt   time.Time `yaml:"created_at"`
}
