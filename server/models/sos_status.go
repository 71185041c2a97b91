package models

const (
	PENDING_SOS   = "pending"
	SENT_SOS      = "sent"
	FAILED_SOS    = "failed"
	CANCELLED_SOS = "cancelled"
	RESOLVED_SOS  = "resolved"
)

var SOSStatusNameMap = map[string]bool{
	PENDING_SOS:   true,
	SENT_SOS:      true,
	FAILED_SOS:    true,
	CANCELLED_SOS: true,
	RESOLVED_SOS:  true,
}

type SOSStats struct {
	PendingSOSCount   int64 `json:"pending_sos_count"`
	SentSOSCount      int64 `json:"sent_sos_count"`
	FailedSOSCount    int64 `json:"failed_sos_count"`
	CancelledSOSCount int64 `json:"cancelled_sos_count"`
	ResolvedSOSCount  int64 `json:"resolved_sos_count"`
}

type SOSStatus struct {
	BaseModel
	Name      string     `json:"name"`
	SOSAlerts []SOSAlert `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
}

func FindSOSStatus(name string) (*SOSStatus, error) {
	sosStatus := SOSStatus{}
	err := db.Select("id", "name").First(&sosStatus, "name = ?", name).Error
	if err != nil {
		return nil, err
	}

	return &sosStatus, nil
}

func CurrentSOSStats() (*SOSStats, error) {
	const JOIN_QUERY = "INNER JOIN sos_statuses ON sos_statuses.id = sos_alerts.sos_status_id AND sos_statuses.name = ?"
	stats := SOSStats{}

	counts := []struct {
		status string
		count  *int64
	}{
		{PENDING_SOS, &stats.PendingSOSCount},
		{SENT_SOS, &stats.SentSOSCount},
		{FAILED_SOS, &stats.FailedSOSCount},
		{CANCELLED_SOS, &stats.CancelledSOSCount},
		{RESOLVED_SOS, &stats.ResolvedSOSCount},
	}

	for _, c := range counts {
		err := db.Joins(JOIN_QUERY, c.status).Model(&SOSAlert{}).Count(c.count).Error
		if err != nil && !isRecordNotFound(err) {
			return nil, err
		}
	}

	return &stats, nil
}
