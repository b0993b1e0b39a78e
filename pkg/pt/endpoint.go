package pt

import (
	"crypto/ed25519"
	"fmt"
)

// ContactAddressing holds the endpoint fields fallback ordering resolves
// against: a contact's public IP
// and port, plus whatever local address our LAN discovery beacon has
// learned for them (empty if none).
type ContactAddressing struct {
	PublicIP  string
	PublicPort int
	LocalIP   string
	LocalPort int
	Recipient ed25519.PublicKey

	// OurPublicIP is our own discovered public IP (pkg/netinfo); a
	// matching PublicIP means the contact is behind the same NAT.
	OurPublicIP string
}

// ResolveEndpoint picks the address PT's sender should try first: the
// hairpin LAN address if the contact shares our public IP, else the
// public address.
func ResolveEndpoint(c ContactAddressing) Endpoint {
	if c.LocalIP != "" && c.PublicIP != "" && c.PublicIP == c.OurPublicIP {
		return Endpoint{
			Addr:      fmt.Sprintf("%s:%d", c.LocalIP, c.LocalPort),
			Recipient: c.Recipient,
		}
	}
	return Endpoint{
		Addr:      fmt.Sprintf("%s:%d", c.PublicIP, c.PublicPort),
		Recipient: c.Recipient,
	}
}
