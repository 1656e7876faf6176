package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"lanchat/node"
)

const commandHelp = `commands:
  peers | groups
  msg <nick> <text>        file <nick> <path>
  create <group> [password] join <group> [password]   leave <group>
  gmsg <group> <text>      gfile <group> <path>        read <group>
  call <nick> | accept <nick> | reject <nick> | end <nick>
  announce | quit`

var errUsage = errors.New("usage: type help")

// runCommands reads one command per line until EOF, quit, or ctx ends.
func runCommands(ctx context.Context, n *node.Node, in io.Reader, quit func()) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			quit()
			return
		}
		if err := runCommand(n, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func runCommand(n *node.Node, line string) error {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	target, arg, _ := strings.Cut(rest, " ")
	arg = strings.TrimSpace(arg)

	switch verb {
	case "help":
		fmt.Println(commandHelp)
		return nil
	case "peers":
		for _, peer := range n.Peers() {
			fmt.Printf("  %-20s %s  call=%s\n", peer.Nickname, peer.Addr(), n.CallPhase(peer.Nickname))
		}
		return nil
	case "groups":
		for _, group := range n.Groups() {
			fmt.Printf("  %-20s %-8s joined=%t unread=%d\n", group.Name, group.Visibility, group.Joined, group.Unread)
		}
		return nil
	case "announce":
		n.AnnounceOnline()
		return nil
	}

	if target == "" {
		return errUsage
	}
	switch verb {
	case "msg":
		return n.SendMessage(target, arg)
	case "file":
		return n.SendFile(target, arg)
	case "create":
		if arg == "" {
			return n.CreatePublicGroup(target)
		}
		return n.CreatePrivateGroup(target, arg)
	case "join":
		return n.JoinGroup(target, arg)
	case "leave":
		return n.LeaveGroup(target)
	case "gmsg":
		return n.SendGroupMessage(target, arg)
	case "gfile":
		return n.SendGroupFile(target, arg)
	case "read":
		return n.MarkGroupRead(target)
	case "call":
		return n.StartCall(target)
	case "accept":
		return n.AcceptCall(target)
	case "reject":
		return n.RejectCall(target)
	case "end":
		return n.EndCall(target)
	default:
		return errUsage
	}
}
