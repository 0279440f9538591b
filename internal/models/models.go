package models

import (
	"fmt"
	"time"
)

// NotSpecified replaces optional request fields the customer left blank.
const NotSpecified = "Not specified"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Party identifies the customer or driver acting on a request.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAccepted  RequestStatus = "accepted"
	StatusCompleted RequestStatus = "completed"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the request still counts against the customer's
// single active slot.
func (s RequestStatus) Active() bool {
	return s == StatusPending || s == StatusAccepted
}

// CanTransitionTo encodes pending → {accepted, cancelled} and
// accepted → {completed, cancelled}.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAccepted || next == StatusCancelled
	case StatusAccepted:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

type RecoveryRequest struct {
	ID             string        `json:"id"`
	CustomerID     string        `json:"customer_id"`
	CustomerName   string        `json:"customer_name"`
	Pickup         string        `json:"pickup"`
	Dropoff        string        `json:"dropoff"`
	VehicleDetails string        `json:"vehicle_details"`
	Location       Coord         `json:"location"`
	Timestamp      time.Time     `json:"timestamp"`
	Status         RequestStatus `json:"status"`
	DriverID       string        `json:"driver_id,omitempty"`
	DriverName     string        `json:"driver_name,omitempty"`
	AcceptedAt     *time.Time    `json:"accepted_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	CancelledAt    *time.Time    `json:"cancelled_at,omitempty"`
	AmountFils     int64         `json:"amount_fils"`
	PaymentMethod  string        `json:"payment_method"`
	PaymentRef     string        `json:"-"`
}

// Transition is emitted after a status change commits. From is empty for
// a freshly created request.
type Transition struct {
	Request RecoveryRequest `json:"request"`
	From    RequestStatus   `json:"from,omitempty"`
	To      RequestStatus   `json:"to"`
	At      time.Time       `json:"at"`
}

// Driver is a recovery driver together with its last known position.
type Driver struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Vehicle   string    `json:"vehicle"`
	Rating    float64   `json:"rating"` // 0..5
	Loc       Coord     `json:"loc"`
	RequestID string    `json:"request_id,omitempty"`
	Online    bool      `json:"online"`
	Updated   time.Time `json:"updated"`
}

// DriverMatchState is what the customer sees while a request is tracked.
type DriverMatchState struct {
	RequestID  string    `json:"request_id"`
	DriverID   string    `json:"driver_id"`
	DriverName string    `json:"driver_name"`
	Vehicle    string    `json:"vehicle"`
	Rating     float64   `json:"rating"`
	Position   Coord     `json:"position"`
	Customer   Coord     `json:"customer"`
	DistanceKm float64   `json:"distance_km"`
	ETAMinutes int       `json:"eta_minutes"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Fare is expressed in fils (1 KD = 1000 fils).
type Fare struct {
	RecoveryFee int64 `json:"recovery_fee_fils"`
	ServiceFee  int64 `json:"service_fee_fils"`
}

func (f Fare) Total() int64 { return f.RecoveryFee + f.ServiceFee }

// DefaultFare is the flat recovery tariff.
var DefaultFare = Fare{RecoveryFee: 15000, ServiceFee: 2500}

// FormatKD renders an amount in fils as "KD 17.500".
func FormatKD(fils int64) string {
	sign := ""
	if fils < 0 {
		sign = "-"
		fils = -fils
	}
	return fmt.Sprintf("%sKD %d.%03d", sign, fils/1000, fils%1000)
}

type TripDetail struct {
	ID            string        `json:"id"`
	CustomerName  string        `json:"customer_name"`
	DriverName    string        `json:"driver_name"`
	Pickup        string        `json:"pickup"`
	Dropoff       string        `json:"dropoff"`
	Vehicle       string        `json:"vehicle"`
	Timestamp     time.Time     `json:"timestamp"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Status        RequestStatus `json:"status"`
	RecoveryFee   string        `json:"recovery_fee"`
	ServiceFee    string        `json:"service_fee"`
	Amount        string        `json:"amount"`
	PaymentMethod string        `json:"payment_method"`
}

type PaymentType string

const (
	PaymentCard PaymentType = "card"
	PaymentKNET PaymentType = "knet"
)

type PaymentMethod struct {
	ID        string      `json:"id"`
	Type      PaymentType `json:"type"`
	Name      string      `json:"name"`
	Last4     string      `json:"last4"`
	Expiry    string      `json:"expiry,omitempty"`
	IsDefault bool        `json:"is_default"`
}

type User struct {
	ID         string    `json:"id"`
	Phone      string    `json:"phone,omitempty"`
	FullName   string    `json:"full_name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Guest      bool      `json:"guest"`
	Registered bool      `json:"registered"`
	CreatedAt  time.Time `json:"created_at"`
}

// DisplayName falls back to the phone number, then to "Guest".
func (u User) DisplayName() string {
	switch {
	case u.FullName != "":
		return u.FullName
	case u.Phone != "":
		return u.Phone
	default:
		return "Guest"
	}
}

type ChatMessage struct {
	Text      string    `json:"text"`
	FromUser  bool      `json:"from_user"`
	Timestamp time.Time `json:"timestamp"`
}
