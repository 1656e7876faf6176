package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lanchat/discovery"
	"lanchat/models"
)

// ErrInvalidGroupName is returned for empty names or names holding a wire delimiter.
var ErrInvalidGroupName = errors.New("node: invalid group name")

func validateGroupName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, ";:") {
		return fmt.Errorf("%w: %q", ErrInvalidGroupName, name)
	}
	return nil
}

// groupKey trims name the way the directory stores it.
func groupKey(name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := validateGroupName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Groups returns every known group, sorted by name.
func (n *Node) Groups() []models.Group {
	return n.groups.List()
}

// Group returns one known group.
func (n *Node) Group(name string) (models.Group, error) {
	return n.groups.Get(strings.TrimSpace(name))
}

// JoinedGroups returns the names of joined groups, sorted.
func (n *Node) JoinedGroups() []string {
	return n.groups.Joined()
}

// CreatePublicGroup records, joins and announces a public group.
func (n *Node) CreatePublicGroup(name string) error {
	return n.createGroup(name, models.VisibilityPublic, "")
}

// CreatePrivateGroup records, joins and announces a private group. The
// password stays local.
func (n *Node) CreatePrivateGroup(name, password string) error {
	if password == "" {
		return errors.New("node: private group password is required")
	}
	return n.createGroup(name, models.VisibilityPrivate, password)
}

func (n *Node) createGroup(name string, visibility models.Visibility, password string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	name, err := groupKey(name)
	if err != nil {
		return err
	}
	if _, created := n.groups.AddDiscovered(name, visibility, password); !created {
		return fmt.Errorf("%w: %s", ErrGroupExists, name)
	}

	announce := discovery.EncodeGroupPublic(name)
	if visibility == models.VisibilityPrivate {
		announce = discovery.EncodeGroupPrivate(name)
		err = n.groups.JoinPrivate(name, password)
	} else {
		err = n.groups.JoinPublic(name)
	}
	if err != nil {
		n.groups.Remove(name)
		return fmt.Errorf("create %q: %w", name, err)
	}
	n.logger.Printf("node: group created name=%s visibility=%s", name, visibility)
	n.broadcast("group announce", announce)
	return nil
}

// JoinGroup joins a known group and broadcasts JOIN_GROUP. Private groups
// require the password recorded when the group was first learned.
func (n *Node) JoinGroup(name, password string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	group, err := n.groups.Get(name)
	if err != nil {
		return fmt.Errorf("join %q: %w", name, err)
	}
	if n.groups.IsJoined(name) {
		return nil
	}

	if group.IsPublic() {
		err = n.groups.JoinPublic(name)
	} else {
		switch {
		case group.Password == "":
			err = fmt.Errorf("%w: %s", ErrPasswordUnknown, name)
		case group.Password != password:
			err = fmt.Errorf("%w: %s", ErrPasswordMismatch, name)
		default:
			err = n.groups.JoinPrivate(name, password)
		}
	}
	if err != nil {
		n.logger.Printf("node: join refused name=%s: %v", name, err)
		return err
	}

	n.logger.Printf("node: joined group name=%s", name)
	n.broadcast("join notice", discovery.EncodeJoinGroup(name, n.opts.Nickname))
	return nil
}

// LeaveGroup broadcasts LEAVE_GROUP and clears local membership. The group
// record is kept for re-joining.
func (n *Node) LeaveGroup(name string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if !n.groups.IsJoined(name) {
		return fmt.Errorf("%w: %s", ErrNotJoined, name)
	}
	// Sent before the local state changes; the payload needs no membership.
	n.broadcast("leave notice", discovery.EncodeLeaveGroup(name, n.opts.Nickname))
	n.groups.Leave(name)
	n.logger.Printf("node: left group name=%s", name)
	return nil
}

// SendGroupMessage broadcasts content to a joined group.
func (n *Node) SendGroupMessage(group, content string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	group = strings.TrimSpace(group)
	if !n.groups.IsJoined(group) {
		n.logger.Printf("node: group message not sent group=%s: not joined", group)
		return fmt.Errorf("%w: %s", ErrNotJoined, group)
	}
	n.broadcast("group message", discovery.EncodeGroupMessage(group, n.opts.Nickname, content))
	return nil
}

// SendGroupFile offers a local file to a joined group. Members pull it
// from this node over TCP.
func (n *Node) SendGroupFile(group, path string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	group = strings.TrimSpace(group)
	if !n.groups.IsJoined(group) {
		n.logger.Printf("node: group file not offered group=%s: not joined", group)
		return fmt.Errorf("%w: %s", ErrNotJoined, group)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := regularFile(abs)
	if err != nil {
		return err
	}

	name := filepath.Base(abs)
	n.groups.AddFile(group, name, abs)
	n.broadcast("group file offer", discovery.EncodeGroupFile(group, n.opts.Nickname, name, info.Size(), n.Port()))
	return nil
}

// MarkGroupRead resets the unread counter of a group.
func (n *Node) MarkGroupRead(name string) error {
	name = strings.TrimSpace(name)
	if err := n.groups.ResetUnread(name); err != nil {
		return fmt.Errorf("mark %q read: %w", name, err)
	}
	return nil
}

func regularFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("node: %s is not a regular file", path)
	}
	return info, nil
}

func checkRegularFile(path string) error {
	_, err := regularFile(path)
	return err
}
