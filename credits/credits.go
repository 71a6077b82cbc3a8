// Package credits defines the read models of the credits ledger.
package credits

// Info is the read model returned when querying a user's balance.
// ShouldShowToast is true iff credits were initialized but the one-time
// toast has not been acknowledged; reading Info never clears the flag.
type Info struct {
	IsInitialized   bool `json:"is_initialized"`
	Credits         int  `json:"credits"`
	ShouldShowToast bool `json:"should_show_toast"`
}

// AdjustResult reports the outcome of an operator credit adjustment.
// Applied may differ from the requested delta when the floor-0 clamp fires.
type AdjustResult struct {
	PreviousBalance int `json:"previous_balance"`
	NewBalance      int `json:"new_balance"`
	Applied         int `json:"applied"`
}
