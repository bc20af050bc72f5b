package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carelink/telehealth-backend/internal/chat"
	"github.com/carelink/telehealth-backend/internal/clinic"
	"github.com/carelink/telehealth-backend/internal/identity"
)

type handlers struct {
	svc     *clinic.Service
	gateway *chat.Gateway
}

// --- doctors ---

func (h *handlers) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.svc.ListDoctors(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}

	resp := make([]DoctorResponse, 0, len(doctors))
	for i := range doctors {
		resp = append(resp, toDoctorResponse(&doctors[i], nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	doctor, avail, err := h.svc.GetDoctor(r.Context(), id)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctorResponse(doctor, avail))
}

func (h *handlers) doctorSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "missing_date", "date query parameter is required")
		return
	}

	slots, err := h.svc.AvailableSlots(r.Context(), id, date)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	if slots == nil {
		slots = []string{}
	}
	writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: id, Date: date, Slots: slots})
}

// --- admin ---

func (h *handlers) createDoctor(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req CreateDoctorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	doctor, err := h.svc.CreateDoctor(r.Context(), actor, &clinic.Doctor{
		Name:            req.Name,
		Specialization:  req.Specialization,
		ConsultationFee: req.ConsultationFee,
		EmergencyFee:    req.EmergencyFee,
		Phone:           req.Phone,
	})
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDoctorResponse(doctor, nil))
}

func (h *handlers) setDoctorApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	if err := h.svc.SetDoctorApproval(r.Context(), actor, id, req.Approved); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"approved": req.Approved})
}

func (h *handlers) setAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req []AvailabilityRow
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	rows := make([]clinic.Availability, len(req))
	for i, a := range req {
		rows[i] = clinic.Availability{
			DayOfWeek:   time.Weekday(a.DayOfWeek),
			StartTime:   a.StartTime,
			EndTime:     a.EndTime,
			SlotMinutes: a.SlotMinutes,
		}
	}

	if err := h.svc.SetWeeklyAvailability(r.Context(), actor, id, rows); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"windows": len(rows)})
}

// --- appointments ---

func (h *handlers) bookScheduled(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req BookScheduledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}

	appt, err := h.svc.BookScheduled(r.Context(), actor.ID, doctorID, req.Date, req.Time, req.Symptoms)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) bookEmergency(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req BookEmergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return
	}

	appt, phone, err := h.svc.BookEmergency(r.Context(), actor.ID, doctorID, req.Symptoms)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	resp := toAppointmentResponse(appt)
	resp.DoctorPhone = phone
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handlers) listMyAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	appts, err := h.svc.ListMyAppointments(r.Context(), actor)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	resp := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		resp = append(resp, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), actor, id)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.UpdateStatus(r.Context(), actor, id, clinic.AppointmentStatus(req.Status))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Cancel(r.Context(), actor, id)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// --- chat (REST fallback) ---

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}

	msgs, err := h.svc.RecentMessages(r.Context(), actor, id, limit)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	resp := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// sendMessage goes through the gateway, not the service directly, so REST
// sends reach connected WebSocket clients too.
func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	msg, err := h.gateway.Send(r.Context(), actor, id, req.Text, req.FileURL)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(*msg))
}

// --- shared helpers ---

func requireIdentity(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	id, ok := callerIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return id, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clinic.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, clinic.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", "not allowed for this caller")
	case errors.Is(err, clinic.ErrChatLocked):
		writeError(w, http.StatusForbidden, "chat_locked", "chat is not unlocked for this appointment yet")
	case errors.Is(err, clinic.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, clinic.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, clinic.ErrDoctorUnavailable):
		writeError(w, http.StatusConflict, "doctor_unavailable", "doctor is not accepting bookings")
	case errors.Is(err, clinic.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_already_booked", "the slot was taken by another booking")
	case errors.Is(err, clinic.ErrDoctorBusy):
		writeError(w, http.StatusConflict, "doctor_busy", "doctor already has an emergency in progress")
	case errors.Is(err, clinic.ErrBookingContended):
		writeError(w, http.StatusConflict, "booking_contended", "slot is being booked, please retry shortly")
	case errors.Is(err, clinic.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, clinic.ErrStatusConflict):
		writeError(w, http.StatusConflict, "status_conflict", "the appointment changed underneath this request, re-read and retry")
	case errors.Is(err, clinic.ErrMeetingFailed):
		writeError(w, http.StatusBadGateway, "meeting_provider_error", "could not provision the video meeting")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
