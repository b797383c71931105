package ingest

// ApiResponse models the top-level structure of the sterilizer log feed's response.
type ApiResponse struct {
	Code int `json:"code"`
	Data struct {
		Page     int       `json:"page"`
		PageSize int       `json:"pageSize"`
		Total    int       `json:"total"`
		Items    []ApiItem `json:"items"`
	} `json:"data"`
}

// ApiItem is one sterilizer run as reported by the feed. Timestamps are in
// the sterilizer's local time.
type ApiItem struct {
	ID          string   `json:"id"`
	FacilityID  string   `json:"facilityId"`
	CycleNumber string   `json:"cycleNumber"`
	StartTime   string   `json:"startTime"`
	EndTime     *string  `json:"endTime"`
	Operator    string   `json:"operator"`
	Tools       []string `json:"tools"`
	BatchID     *string  `json:"batchId"`
	Status      string   `json:"status"`
}
