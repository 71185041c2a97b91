package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/havenapp/haven/server/auth"
	"github.com/havenapp/haven/server/auth/key"
	"github.com/havenapp/haven/server/booking"
	"github.com/havenapp/haven/server/models"
	"github.com/havenapp/haven/server/sos"
	"github.com/pkg/errors"
)

var (
	userUpdatableFields = map[string]bool{
		"first_name":   true,
		"last_name":    true,
		"phone_number": true,
		"password":     true,
	}

	contactUpdatableFields = map[string]bool{
		"name":          true,
		"relationship":  true,
		"phone_number":  true,
		"email":         true,
		"priority":      true,
		"is_active":     true,
		"consent_given": true,
	}
)

// ---------------------------------------------------------------------------------//
// Account handlers
// --------------------------------------------------------------------------------//

func createUser(rw http.ResponseWriter, r *http.Request) {
	data := struct {
		models.User
		Role string `json:"role"`
	}{}

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"unable to parse request body"}}, http.StatusBadRequest)
		return
	}

	err = validate.Struct(data.User)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(err.Error(), "\n")}, http.StatusUnprocessableEntity)
		return
	}

	roleName, err := roleForNewUser(r, data.Role)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusUnprocessableEntity)
		return
	}

	role, err := models.FindRole(roleName)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}
	data.User.RoleID = role.ID

	err = models.CreateUser(&data.User)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusUnprocessableEntity)
		return
	}

	data.User.Password = ""
	writeResponse(rw, ResponsePayload{Data: data.User}, http.StatusCreated)
}

func findUser(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"user not found"}}, http.StatusNotFound)
		return
	}

	writeResponse(rw, ResponsePayload{Data: user}, http.StatusOK)
}

func updateUser(rw http.ResponseWriter, r *http.Request) {
	args := map[string]interface{}{}

	err := json.NewDecoder(r.Body).Decode(&args)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"unable to parse request body"}}, http.StatusBadRequest)
		return
	}
	removeUnknownFields(args, userUpdatableFields)

	if phoneNumber, ok := args["phone_number"].(string); ok {
		if err = validate.Var(phoneNumber, "e164"); err != nil {
			writeResponse(rw, ResponsePayload{Errors: []string{"phone_number must be a valid E.164 number e.g. +250788123456"}}, http.StatusUnprocessableEntity)
			return
		}
	}

	if password, ok := args["password"].(string); ok {
		if err = validate.Var(password, "password"); err != nil {
			writeResponse(rw, ResponsePayload{Errors: []string{"password cannot contain whitespace or be empty"}}, http.StatusUnprocessableEntity)
			return
		}
	}

	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"user not found"}}, http.StatusNotFound)
		return
	}

	err = user.Update(args)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: "user updated"}, http.StatusOK)
}

func deleteUser(rw http.ResponseWriter, r *http.Request) {
	err := models.DeleteUser(mux.Vars(r)["uid"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: "user deleted"}, http.StatusOK)
}

func logIn(rw http.ResponseWriter, r *http.Request) {
	creds := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{}

	err := json.NewDecoder(r.Body).Decode(&creds)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"unable to parse request body"}}, http.StatusBadRequest)
		return
	}

	passwordHash, err := models.FindUserPassword(creds.Email)
	if err != nil || !auth.CheckPasswordHash(creds.Password, passwordHash) {
		writeResponse(rw, ResponsePayload{Errors: []string{"email/password combination is incorrect"}}, http.StatusUnauthorized)
		return
	}

	user, err := models.FindUserBy("email", creds.Email)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	isAdmin, err := user.IsAdmin()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	isCounselor, err := user.IsCounselor()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	claims := auth.HavenTokenClaims{
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		IsAdmin:     isAdmin,
		IsCounselor: isCounselor,
	}
	claims.Subject = fmt.Sprint(user.ID)
	claims.IssuedAt = time.Now().Unix()
	claims.ExpiresAt = time.Now().Add(24 * time.Hour).Unix()
	claims.Issuer = "haven"

	token, err := auth.EncodeJWT(claims, authKeyPair)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Data: map[string]string{"token": token}}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Emergency contact handlers
// --------------------------------------------------------------------------------//

func createContact(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"user not found"}}, http.StatusNotFound)
		return
	}

	contact := models.EmergencyContact{}
	err = json.NewDecoder(r.Body).Decode(&contact)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"unable to parse request body"}}, http.StatusBadRequest)
		return
	}

	if contact.Relationship == "" {
		contact.Relationship = models.OTHER_RELATIONSHIP
	}

	err = validate.Struct(contact)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(err.Error(), "\n")}, http.StatusUnprocessableEntity)
		return
	}

	if contact.ConsentGiven {
		now := time.Now()
		contact.ConsentAt = &now
	}

	err = user.AddContact(&contact)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusUnprocessableEntity)
		return
	}

	writeResponse(rw, ResponsePayload{Data: contact}, http.StatusCreated)
}

func listContacts(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"user not found"}}, http.StatusNotFound)
		return
	}

	err = user.LoadContacts()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Data: user.EmergencyContacts}, http.StatusOK)
}

func updateContact(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"user not found"}}, http.StatusNotFound)
		return
	}

	contactID := mux.Vars(r)["id"]
	_, err = models.FindContact(user.ID, contactID)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"contact not found"}}, http.StatusNotFound)
		return
	}

	args := map[string]interface{}{}
	err = json.NewDecoder(r.Body).Decode(&args)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"unable to parse request body"}}, http.StatusBadRequest)
		return
	}
	removeUnknownFields(args, contactUpdatableFields)

	if relationship, ok := args["relationship"].(string); ok && !models.RelationshipNameMap[relationship] {
		writeResponse(rw, ResponsePayload{Errors: []string{fmt.Sprintf("%v is not a valid relationship", relationship)}}, http.StatusUnprocessableEntity)
		return
	}

	if phoneNumber, ok := args["phone_number"].(string); ok && phoneNumber != "" {
		if err = validate.Var(phoneNumber, "e164"); err != nil {
			writeResponse(rw, ResponsePayload{Errors: []string{"phone_number must be a valid E.164 number e.g. +250788123456"}}, http.StatusUnprocessableEntity)
			return
		}
	}

	// keep consent_at in step with the consent flag
	if consentGiven, ok := args["consent_given"].(bool); ok {
		if consentGiven {
			args["consent_at"] = time.Now()
		} else {
			args["consent_at"] = nil
		}
	}

	err = user.UpdateContact(contactID, args)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: "contact updated"}, http.StatusOK)
}

func deleteContact(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"user not found"}}, http.StatusNotFound)
		return
	}

	err = user.DeleteContact(mux.Vars(r)["id"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: "contact deleted"}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// SOS handlers
// --------------------------------------------------------------------------------//

func createSOSAlert(rw http.ResponseWriter, r *http.Request) {
	payload := sos.AlertPayload{}
	err := json.NewDecoder(r.Body).Decode(&payload)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"unable to parse request body"}}, http.StatusBadRequest)
		return
	}

	alert, err := dispatchEngine.CreateAlert(requestUserID(r), payload)
	if err != nil {
		writeSOSError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Data: sosAlertData(alert)}, http.StatusCreated)
}

func createGuestSOSAlert(rw http.ResponseWriter, r *http.Request) {
	data := struct {
		sos.AlertPayload
		GuestSessionID string `json:"guest_session_id"`
	}{}

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"unable to parse request body"}}, http.StatusBadRequest)
		return
	}

	sessionID := data.GuestSessionID
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.Header.Get("X-Guest-Session"))
	}

	alert, err := dispatchEngine.CreateGuestAlert(sessionID, data.AlertPayload)
	if err != nil {
		writeSOSError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Data: sosAlertData(alert)}, http.StatusCreated)
}

func cancelSOSAlert(rw http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := alertOwnerRef(r)
	if !ok {
		writeResponse(rw, ResponsePayload{Errors: []string{"no token or guest session provided"}}, http.StatusUnauthorized)
		return
	}

	alert, err := dispatchEngine.Cancel(mux.Vars(r)["id"], userID, sessionID)
	if err != nil {
		writeSOSError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Data: sosAlertData(alert)}, http.StatusOK)
}

func resolveSOSAlert(rw http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := alertOwnerRef(r)
	if !ok {
		writeResponse(rw, ResponsePayload{Errors: []string{"no token or guest session provided"}}, http.StatusUnauthorized)
		return
	}

	alert, err := dispatchEngine.Resolve(mux.Vars(r)["id"], userID, sessionID)
	if err != nil {
		writeSOSError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Data: sosAlertData(alert)}, http.StatusOK)
}

func retrySOSAlert(rw http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := alertOwnerRef(r)
	if !ok {
		writeResponse(rw, ResponsePayload{Errors: []string{"no token or guest session provided"}}, http.StatusUnauthorized)
		return
	}

	alert, err := dispatchEngine.RetryFailed(mux.Vars(r)["id"], userID, sessionID)
	if err != nil {
		writeSOSError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Data: sosAlertData(alert)}, http.StatusOK)
}

func sosAlertHistory(rw http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := intOrDefault(query.Get("limit"), 20)
	skip := intOrDefault(query.Get("skip"), 0)

	alerts, total, err := dispatchEngine.History(requestUserID(r), limit, skip, query.Get("status"))
	if err != nil {
		writeSOSError(rw, err)
		return
	}

	alertData := make([]map[string]interface{}, 0, len(alerts))
	for i := range alerts {
		alertData = append(alertData, sosAlertData(&alerts[i]))
	}

	writeResponse(rw, ResponsePayload{Data: map[string]interface{}{"alerts": alertData, "total": total}}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Booking handlers
// --------------------------------------------------------------------------------//

func counselorSlots(rw http.ResponseWriter, r *http.Request) {
	counselor, isCounselor, err := findCounselor(mux.Vars(r)["uid"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"counselor not found"}}, http.StatusNotFound)
		return
	}
	if !isCounselor {
		writeResponse(rw, ResponsePayload{Errors: []string{"user is not a counselor"}}, http.StatusUnprocessableEntity)
		return
	}

	query := r.URL.Query()
	date, err := time.Parse("2006-01-02", query.Get("date"))
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"date must be provided as YYYY-MM-DD"}}, http.StatusBadRequest)
		return
	}

	duration := intOrDefault(query.Get("duration"), 60)

	result, err := booking.AvailableSlots(counselor.ID, date, duration, time.Now())
	if errors.Is(err, booking.ErrInvalidDuration) {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Data: result}, http.StatusOK)
}

func createAppointment(rw http.ResponseWriter, r *http.Request) {
	appointment := models.Appointment{}
	err := json.NewDecoder(r.Body).Decode(&appointment)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"unable to parse request body"}}, http.StatusBadRequest)
		return
	}
	appointment.UserID = requestUserID(r)
	appointment.Status = models.PENDING_APPOINTMENT

	err = validate.Struct(appointment)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(err.Error(), "\n")}, http.StatusUnprocessableEntity)
		return
	}

	if _, err = time.Parse("2006-01-02", appointment.Date); err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"date must be provided as YYYY-MM-DD"}}, http.StatusBadRequest)
		return
	}

	_, isCounselor, err := findCounselor(appointment.CounselorID)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"counselor not found"}}, http.StatusNotFound)
		return
	}
	if !isCounselor {
		writeResponse(rw, ResponsePayload{Errors: []string{"user is not a counselor"}}, http.StatusUnprocessableEntity)
		return
	}

	conflict, err := booking.HasConflict(appointment.CounselorID, appointment.Date, appointment.StartTime, appointment.DurationMinutes)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}
	if conflict {
		writeResponse(rw, ResponsePayload{Errors: []string{"requested time overlaps an existing booking"}}, http.StatusConflict)
		return
	}

	err = models.CreateAppointment(&appointment)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusUnprocessableEntity)
		return
	}

	writeResponse(rw, ResponsePayload{Data: appointment}, http.StatusCreated)
}

func listAppointments(rw http.ResponseWriter, r *http.Request) {
	page := intOrDefault(r.URL.Query().Get("page"), 1)

	appointments, paging, err := models.AppointmentsForUser(requestUserID(r), page)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Data: appointments, Paging: paging}, http.StatusOK)
}

func cancelAppointment(rw http.ResponseWriter, r *http.Request) {
	appointment, err := models.FindAppointmentForUser(mux.Vars(r)["id"], requestUserID(r))
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"appointment not found"}}, http.StatusNotFound)
		return
	}

	if appointment.Status == models.CANCELLED_APPOINTMENT || appointment.Status == models.COMPLETED_APPOINTMENT {
		writeResponse(rw, ResponsePayload{Errors: []string{models.ErrAppointmentNotCancellable.Error()}}, http.StatusUnprocessableEntity)
		return
	}

	args := struct {
		CancelReason string `json:"cancel_reason"`
	}{}
	// body is optional on cancel
	json.NewDecoder(r.Body).Decode(&args)

	appointment.Status = models.CANCELLED_APPOINTMENT
	appointment.CancelReason = args.CancelReason
	err = appointment.Save()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Data: appointment}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Admin & misc handlers
// --------------------------------------------------------------------------------//

func getJobs(rw http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := intOrDefault(query.Get("page"), 1)
	status := query.Get("status")

	var jobs []models.Job
	var paging *models.Paging
	var err error

	if status != "" {
		jobs, paging, err = models.FetchJobsByStatus(status, page)
	} else {
		jobs, paging, err = models.FetchJobs(page)
	}

	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Data: jobs, Paging: paging}, http.StatusOK)
}

func getStats(rw http.ResponseWriter, r *http.Request) {
	jobsStats, err := models.CurrentJobsStats()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	sosStats, err := models.CurrentSOSStats()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{
		Data: map[string]interface{}{"jobs": jobsStats, "sos_alerts": sosStats},
	}, http.StatusOK)
}

func jwks(rw http.ResponseWriter, r *http.Request) {
	keyPairJWK, err := authKeyPair.JWK()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(key.ExportJWKAsJWKS(keyPairJWK))
}

func healthCheck(rw http.ResponseWriter, r *http.Request) {
	writeResponse(rw, ResponsePayload{Success: "ok"}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// roleForNewUser decides the role a new account gets: the very first
// account is the bootstrap admin, admins may set a role explicitly &
// everyone else is basic.
func roleForNewUser(r *http.Request, requestedRole string) (string, error) {
	atLeastOneUserExists, err := models.AtLeastOneUserExists()
	if err != nil {
		return "", err
	}

	if !atLeastOneUserExists {
		return models.ADMIN_ROLE, nil
	}

	claims := requestClaims(r)
	if requestedRole != "" && claims != nil && claims.IsAdmin {
		if requestedRole != models.ADMIN_ROLE && requestedRole != models.COUNSELOR_ROLE && requestedRole != models.BASIC_ROLE {
			return "", fmt.Errorf("%v is not a valid role", requestedRole)
		}
		return requestedRole, nil
	}

	return models.BASIC_ROLE, nil
}

func findCounselor(id interface{}) (*models.User, bool, error) {
	user, err := models.FindUserBy("id", id)
	if err != nil {
		return nil, false, err
	}

	isCounselor, err := user.IsCounselor()
	if err != nil {
		return nil, false, err
	}

	return user, isCounselor, nil
}

// sosAlertData shapes an alert for API responses, with the delivery
// ledger decoded out of its stored JSON form.
func sosAlertData(alert *models.SOSAlert) map[string]interface{} {
	records, err := alert.DeliveryRecords()
	if err != nil {
		logg.Errorf("unable to decode delivery records for alert %v: %v", alert.ID, err)
	}

	return map[string]interface{}{
		"id":               alert.ID,
		"reference":        alert.Reference,
		"status":           alert.StatusName(),
		"user_id":          alert.UserID,
		"guest_session_id": alert.GuestSessionID,
		"location_address": alert.LocationAddress,
		"custom_note":      alert.CustomNote,
		"was_offline":      alert.WasOffline,
		"triggered_at":     alert.TriggeredAt,
		"cancelled_at":     alert.CancelledAt,
		"resolved_at":      alert.ResolvedAt,
		"deliveries":       records,
	}
}

func writeSOSError(rw http.ResponseWriter, err error) {
	var validationErr *sos.ValidationError
	var missingPhonesErr *sos.MissingPhoneNumbersError

	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &missingPhonesErr),
		errors.Is(err, sos.ErrNoEligibleContacts),
		errors.Is(err, sos.ErrNoFailedDeliveries):
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
	case errors.Is(err, sos.ErrAlertNotFound):
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusNotFound)
	case errors.Is(err, sos.ErrDispatchInProgress):
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusConflict)
	default:
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
	}
}
