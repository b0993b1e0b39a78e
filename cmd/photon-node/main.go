// photon-node runs one Photon device: the CLUTCH/CHAIN/PT core, the
// encrypted vault, the FGTW rendezvous client, and the loopback poll API
// a UI process reads. A minimal stdin control loop stands in for the
// GUI: add contacts and send messages by hand.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nickspiker/photon/pkg/core"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/identity"
	"github.com/nickspiker/photon/pkg/netinfo"
	"github.com/nickspiker/photon/pkg/persistence"
	"github.com/nickspiker/photon/pkg/pollapi"
	"github.com/nickspiker/photon/pkg/pt"
	"github.com/nickspiker/photon/pkg/rendezvous"
)

const defaultPort = 47100

var (
	handle   = flag.String("handle", "", "Handle to attest as (required)")
	dataDir  = flag.String("data", "./photon-data", "Vault and history directory")
	port     = flag.Int("port", defaultPort, "UDP+TCP service port")
	fgtwURL  = flag.String("fgtw", "https://fgtw.photon.example", "FGTW rendezvous/relay base URL")
	apiAddr  = flag.String("api", "127.0.0.1:47180", "Loopback poll API listen address")
	noLAN    = flag.Bool("nolan", false, "Disable LAN multicast discovery")
	stunList = flag.String("stun", "", "Comma-separated STUN servers (default: built-in list)")
)

func main() {
	flag.Parse()
	if *handle == "" {
		log.Fatal("Error: -handle flag is required")
	}

	device, err := deriveDevice()
	if err != nil {
		log.Fatalf("Failed to derive device identity: %v", err)
	}
	log.Printf("✓ Device identity derived (pubkey %x…)", device.Public[:8])

	vaultKey := persistence.DeriveVaultKey([]byte(*handle), device.Private.Seed())
	vault, err := persistence.Open(filepath.Join(*dataDir, "vault"), vaultKey)
	if err != nil {
		log.Fatalf("Failed to open vault: %v", err)
	}

	history, err := persistence.OpenHistory(filepath.Join(*dataDir, "history.db"))
	if err != nil {
		log.Fatalf("Failed to open history db: %v", err)
	}
	defer history.Close()

	directory := rendezvous.New(*fgtwURL).WithSigner(device.Public, device.Private)

	socket, err := pt.NewSocket(fmt.Sprintf(":%d", *port), directory)
	if err != nil {
		log.Fatalf("Failed to bind service port %d: %v", *port, err)
	}
	defer socket.Close()
	log.Printf("✓ Listening on UDP+TCP port %d", socket.LocalPort())

	log.Printf("Computing handle proof for %q (about a second)...", *handle)
	proof := identity.HandleProof(*handle)

	var beacon *pt.Beacon
	var listener *pt.Listener
	if !*noLAN {
		if beacon, err = pt.NewBeacon(device.Private, proof, uint16(socket.LocalPort())); err != nil {
			log.Printf("⚠️ LAN beacon unavailable: %v", err)
		}
		if listener, err = pt.NewListener(); err != nil {
			log.Printf("⚠️ LAN listener unavailable: %v", err)
		}
	}

	node := core.NewNode(*handle, device, vault, history, directory, socket, beacon, listener)
	if err := node.LoadContacts(); err != nil {
		log.Printf("⚠️ Loading persisted contacts: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := node.NetworkThread(ctx); err != nil && ctx.Err() == nil {
			log.Printf("network thread exited: %v", err)
		}
	}()
	go func() {
		if err := node.RunUIThread(ctx); err != nil && ctx.Err() == nil {
			log.Printf("ui thread exited: %v", err)
		}
	}()

	go attest(ctx, node, directory, proof)
	go pollRelay(ctx, node, directory)

	api := pollapi.New(node)
	go func() {
		if err := api.Router().Run(*apiAddr); err != nil {
			log.Printf("poll api exited: %v", err)
		}
	}()
	log.Printf("✓ Poll API on http://%s/v1", *apiAddr)

	go controlLoop(node, directory)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down")
}

// deriveDevice builds the Ed25519 device keypair from the machine
// fingerprint; never persisted.
func deriveDevice() (identity.DeviceKeyPair, error) {
	fp, err := identity.MachineFingerprint()
	if err != nil {
		return identity.DeviceKeyPair{}, err
	}
	return identity.DeriveDeviceKeyPair(fp), nil
}

// attest discovers our public endpoint over STUN and publishes the
// attestation record to FGTW, re-publishing periodically so last_seen
// stays fresh.
func attest(ctx context.Context, node *core.Node, directory *rendezvous.Client, proof [32]byte) {
	servers := netinfo.DefaultSTUNServers
	if *stunList != "" {
		servers = strings.Split(*stunList, ",")
	}

	for {
		ep, err := netinfo.DiscoverPublicEndpointAny(servers, 5*time.Second)
		if err != nil {
			log.Printf("⚠️ STUN discovery failed: %v", err)
		} else {
			a := rendezvous.Attestation{
				HandleProof:    proof,
				DevicePubkey:   node.Device.Public,
				PublicEndpoint: ep.String(),
				LastSeen:       eagletime.Now(),
			}
			if err := directory.Attest(ctx, a); err != nil {
				log.Printf("⚠️ Attestation failed: %v", err)
			} else {
				log.Printf("✓ Attested as %q at %s", node.Handle, ep)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Minute):
		}
	}
}

// pollRelay periodically drains the FGTW conduit mailbox for ciphertext
// that couldn't be delivered directly while we were unreachable.
func pollRelay(ctx context.Context, node *core.Node, directory *rendezvous.Client) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payloads, err := directory.Pickup(ctx, node.Device.Public)
			if err != nil {
				log.Printf("⚠️ Relay pickup failed: %v", err)
				continue
			}
			for _, p := range payloads {
				node.DeliverRelayPayload(p)
			}
			if len(payloads) > 0 {
				log.Printf("📬 Picked up %d relayed payloads", len(payloads))
			}
		}
	}
}

// controlLoop is the stand-in for a GUI: a line-oriented command prompt.
func controlLoop(node *core.Node, directory *rendezvous.Client) {
	fmt.Println("commands: add <handle> | send <handle> <text> | contacts | quit")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "add":
			if len(fields) != 2 {
				fmt.Println("usage: add <handle>")
				continue
			}
			go addContact(node, directory, fields[1])
		case "send":
			if len(fields) < 3 {
				fmt.Println("usage: send <handle> <text>")
				continue
			}
			sendMessage(node, fields[1], strings.Join(fields[2:], " "))
		case "contacts":
			snap, err := node.PollSnapshot(context.Background())
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, c := range snap.Contacts {
				fmt.Printf("  %-20s %-10s ceremony=%-14s online=%v pending=%d\n",
					c.Handle, c.Trust, c.CeremonyState, c.Online, c.PendingCount)
			}
		case "quit":
			os.Exit(0)
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

// addContact resolves a handle through FGTW (the ~1s proof computation
// plus a directory lookup) and starts the CLUTCH ceremony.
func addContact(node *core.Node, directory *rendezvous.Client, peer string) {
	proof := identity.HandleProof(peer)
	a, err := directory.Lookup(context.Background(), proof)
	if err != nil {
		log.Printf("⚠️ Lookup for %q failed: %v", peer, err)
		return
	}

	host, portStr, found := strings.Cut(a.PublicEndpoint, ":")
	if !found {
		log.Printf("⚠️ Attestation for %q has malformed endpoint %q", peer, a.PublicEndpoint)
		return
	}
	var p int
	fmt.Sscanf(portStr, "%d", &p)

	c := node.AddContact(peer, pt.ContactAddressing{
		PublicIP:   host,
		PublicPort: p,
		LocalIP:    a.LocalIP,
		Recipient:  a.DevicePubkey,
	})
	c.Proof = proof
	c.HasProof = true
	node.StartCeremony(c)
	log.Printf("✓ Added %q, ceremony started", peer)
}

func sendMessage(node *core.Node, peer, text string) {
	c, ok := node.Contacts().ByHandleHash(identity.HandleHash(peer))
	if !ok {
		fmt.Println("unknown contact:", peer)
		return
	}
	if err := node.SendMessage(c, text); err != nil {
		fmt.Println("error:", err)
	}
}
