package api

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error string `json:"error"`
}

// retryAfterSeconds is sent with 503 responses while no data exists yet.
const retryAfterSeconds = "30"
