package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/hilbu/internal/auth"
	"github.com/example/hilbu/internal/models"
	"github.com/example/hilbu/internal/otp"
	"github.com/example/hilbu/internal/support"
)

type sendOTPDTO struct {
	Phone string `json:"phone" validate:"required"`
	Guest bool   `json:"guest"`
}

type verifyOTPDTO struct {
	Phone string `json:"phone" validate:"required"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
	Role  string `json:"role" validate:"omitempty,oneof=customer driver"`
}

type registerDTO struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type challengeView struct {
	Phone     string    `json:"phone"`
	State     otp.State `json:"state"`
	ExpiresIn int       `json:"expires_in_seconds"`
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var body sendOTPDTO
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ch, err := s.app.Challenges.Begin(r.Context(), body.Phone, body.Guest)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, challengeView{
		Phone:     strings.TrimSpace(body.Phone),
		State:     ch.State(),
		ExpiresIn: int(s.app.Config.OTPTTL.Seconds()),
	})
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var body sendOTPDTO
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ch, err := s.app.Challenges.Get(body.Phone)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := ch.Resend(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, challengeView{Phone: strings.TrimSpace(body.Phone), State: ch.State()})
}

// handleVerifyOTP types the code into the challenge cell by cell; the
// last digit submits it.
func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body verifyOTPDTO
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ch, err := s.app.Challenges.Get(body.Phone)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var outcome otp.Outcome
	for i, d := range body.Code {
		if outcome, err = ch.OnDigit(r.Context(), i, string(d)); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	s.app.Challenges.Finish(body.Phone)

	role := auth.Role(body.Role)
	sess, err := s.app.Auth.CompleteLogin(body.Phone, role, outcome == otp.OutcomeMain)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "next": outcome.String()})
}

func (s *Server) handleGuest(w http.ResponseWriter, r *http.Request) {
	sess, err := s.app.Auth.StartGuest()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "next": otp.OutcomeMain.String()})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerDTO
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.app.Auth.Register(principal(r).UserID, body.FullName, body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.app.Auth.UserInfo(principal(r).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.app.Auth.Logout(principal(r))
	w.WriteHeader(http.StatusNoContent)
}

type addMethodDTO struct {
	Type      string `json:"type" validate:"required,oneof=card knet"`
	Name      string `json:"name" validate:"max=50"`
	Last4     string `json:"last4" validate:"required,len=4,numeric"`
	Expiry    string `json:"expiry" validate:"omitempty,len=5"`
	IsDefault bool   `json:"is_default"`
}

func (s *Server) handleListMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Payments.For(principal(r).UserID).List())
}

func (s *Server) handleAddMethod(w http.ResponseWriter, r *http.Request) {
	var body addMethodDTO
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.app.Payments.For(principal(r).UserID).Add(models.PaymentMethod{
		Type:      models.PaymentType(body.Type),
		Name:      body.Name,
		Last4:     body.Last4,
		Expiry:    body.Expiry,
		IsDefault: body.IsDefault,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleSetDefaultMethod(w http.ResponseWriter, r *http.Request) {
	book := s.app.Payments.For(principal(r).UserID)
	if err := book.SetDefault(mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book.List())
}

func (s *Server) handleRemoveMethod(w http.ResponseWriter, r *http.Request) {
	book := s.app.Payments.For(principal(r).UserID)
	if err := book.Remove(mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book.List())
}

type supportDTO struct {
	Text string `json:"text" validate:"max=2000"`
}

func (s *Server) handleSupportMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"hotline":  support.Hotline,
		"messages": s.app.Support.For(principal(r).UserID).Messages(),
	})
}

func (s *Server) handleSupportSend(w http.ResponseWriter, r *http.Request) {
	var body supportDTO
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.app.Support.For(principal(r).UserID).Send(body.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}
