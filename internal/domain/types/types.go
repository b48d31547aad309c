// Package types contains common types used across the application
package types

// GroupView is the externally visible state of a contact group.
type GroupView struct {
	ID          int         `json:"id"`
	Key         string      `json:"key"`
	Name        string      `json:"name"`
	Solver      string      `json:"solver"`
	Strength    int         `json:"strength"`
	ContactOnly bool        `json:"contact_only"`
	LastOutcome string      `json:"last_outcome,omitempty"`
	Motors      []MotorView `json:"motors"`
	Points      []PointView `json:"avatar_points"`
}

// MotorView is the externally visible state of a motor.
type MotorView struct {
	Name     string `json:"name"`
	DeviceID int    `json:"device_id"`
	Channel  int    `json:"channel"`
	PWM      int    `json:"pwm"`
}

// PointView is the externally visible state of a contact point.
type PointView struct {
	Name       string  `json:"name"`
	ReceiverID string  `json:"receiver_id"`
	Value      float64 `json:"value"`
	// AgeMS is -1 when the point never received a sample.
	AgeMS int64 `json:"age_ms"`
}
