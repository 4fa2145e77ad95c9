package models

// ModemIdentity carries identifying information read from a modem during the
// identification phase (AT+CGMI / AT+CGMM / AT+CGMR / AT+CGSN). Optional
// fields stay empty when the corresponding command failed.
type ModemIdentity struct {
	Port         string `json:"port"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Revision     string `json:"revision,omitempty"`
	Serial       string `json:"serial,omitempty"`
}
