package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"lanchat/config"
	"lanchat/node"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	listenPort := 0
	if cfg.PortMode == config.PortModeFixed {
		listenPort = cfg.ListeningPort
	}
	announce := time.Duration(cfg.AnnounceInterval()) * time.Second
	if announce <= 0 {
		announce = -1
	}

	n, err := node.New(node.Options{
		Nickname:         cfg.Nickname,
		InstanceID:       cfg.InstanceID,
		ListenAddress:    net.JoinHostPort("", strconv.Itoa(listenPort)),
		DownloadDir:      cfg.DownloadDir,
		UDPPort:          cfg.UDPPort,
		MulticastGroup:   cfg.MulticastGroup,
		MulticastTTL:     cfg.MulticastTTL,
		MDNSEnabled:      cfg.MDNS(),
		AnnounceInterval: announce,
		Logger:           log.Default(),
	})
	if err != nil {
		log.Fatalf("startup failed while building node: %v", err)
	}
	if err := n.Start(); err != nil {
		log.Fatalf("startup failed while binding sockets: %v", err)
	}

	fmt.Printf("Instance ID:     %s\n", n.InstanceID())
	fmt.Printf("Nickname:        %s\n", cfg.Nickname)
	fmt.Printf("Listening Port:  %d\n", n.Port())
	fmt.Printf("Discovery:       %s:%d\n", cfg.MulticastGroup, cfg.UDPPort)
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Data Directory:  %s\n", filepath.Dir(cfgPath))
	fmt.Printf("Downloads:       %s\n", cfg.DownloadDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		logEvents(n.Events())
		close(done)
	}()
	go runCommands(ctx, n, os.Stdin, stop)

	fmt.Println("Status:          running (type help, Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
	n.Stop()
	<-done
}

func logEvents(events <-chan node.Event) {
	for event := range events {
		switch event.Type {
		case node.EventPeerOnline:
			log.Printf("event: peer online nickname=%s addr=%s", event.Peer.Nickname, event.Peer.Addr())
		case node.EventPeerOffline:
			log.Printf("event: peer offline nickname=%s", event.Peer.Nickname)
		case node.EventDirectMessage:
			log.Printf("event: message from=%s text=%q", event.Message.From, event.Message.Text)
		case node.EventFileReceived:
			log.Printf("event: file from=%s group=%q name=%q bytes=%d/%d path=%s",
				event.File.Sender, event.File.Group, event.File.Name, event.File.Received, event.File.Size, event.File.Path)
		case node.EventGroupMessage:
			log.Printf("event: group=%s from=%s text=%q",
				event.GroupMessage.Group, event.GroupMessage.Sender, event.GroupMessage.Content)
		case node.EventGroupDiscovered:
			log.Printf("event: group discovered name=%s visibility=%s", event.Group.Name, event.Group.Visibility)
		case node.EventGroupNotice:
			log.Printf("event: group=%s %s %s", event.Notice.Group, event.Notice.Actor, event.Notice.Kind)
		case node.EventIncomingCall:
			log.Printf("event: incoming call from=%s (accept %s | reject %s)",
				event.Peer.Nickname, event.Peer.Nickname, event.Peer.Nickname)
		case node.EventCallSignal:
			log.Printf("event: call peer=%s signal=%s phase=%s", event.Peer.Nickname, event.Signal.Kind, event.Signal.Phase)
		case node.EventVideoFrame:
			log.Printf("event: video frame from=%s bytes=%d", event.Peer.Nickname, len(event.Frame))
		default:
			log.Printf("event: type=%s", event.Type)
		}
	}
}
