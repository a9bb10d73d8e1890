package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dischat/chat"
)

var (
	flagName     string
	flagEmail    string
	flagPassword string

	stdin = bufio.NewReader(os.Stdin)
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and sign in",
	Args:  cobra.NoArgs,
	RunE:  runSignUp,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to an existing account",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the saved session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	Args:  cobra.NoArgs,
	RunE:  runWhoAmI,
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List everyone you can message",
	Args:  cobra.NoArgs,
	RunE:  runContacts,
}

func init() {
	for _, cmd := range []*cobra.Command{signupCmd, loginCmd} {
		cmd.Flags().StringVar(&flagEmail, "email", "", "account email (prompted when empty)")
		cmd.Flags().StringVar(&flagPassword, "password", "", "account password (prompted when empty)")
	}
	signupCmd.Flags().StringVar(&flagName, "name", "", "full name shown to contacts (prompted when empty)")
}

func prompt(label, current string) (string, error) {
	if current != "" {
		return current, nil
	}
	fmt.Print(label)
	input, err := stdin.ReadString('\n')
	if err != nil && input == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}
	return strings.TrimSpace(input), nil
}

func runSignUp(cmd *cobra.Command, args []string) error {
	remote, sessions, err := openRemote(cmd.Context())
	if err != nil {
		return err
	}
	defer sessions.Close()

	name, err := prompt("Full name: ", flagName)
	if err != nil {
		return err
	}
	email, err := prompt("Email: ", flagEmail)
	if err != nil {
		return err
	}
	password, err := prompt("Password: ", flagPassword)
	if err != nil {
		return err
	}

	session, err := chat.Register(cmd.Context(), remote, remote, name, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("Signed up as %s (%s)\n", session.User.Email, session.User.ID)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	remote, sessions, err := openRemote(cmd.Context())
	if err != nil {
		return err
	}
	defer sessions.Close()

	email, err := prompt("Email: ", flagEmail)
	if err != nil {
		return err
	}
	password, err := prompt("Password: ", flagPassword)
	if err != nil {
		return err
	}

	session, err := chat.Login(cmd.Context(), remote, email, password)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s\n", session.User.Email)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	remote, sessions, err := openRemote(cmd.Context())
	if err != nil {
		return err
	}
	defer sessions.Close()

	if err := chat.Logout(cmd.Context(), remote); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func runWhoAmI(cmd *cobra.Command, args []string) error {
	remote, sessions, err := openRemote(cmd.Context())
	if err != nil {
		return err
	}
	defer sessions.Close()

	identity, err := remote.CurrentUser(cmd.Context())
	if err != nil {
		return fmt.Errorf("not signed in: %w", err)
	}
	fmt.Printf("%s (%s) on %s\n", identity.Email, identity.ID, remote.BaseURL())
	return nil
}

func runContacts(cmd *cobra.Command, args []string) error {
	remote, sessions, err := openRemote(cmd.Context())
	if err != nil {
		return err
	}
	defer sessions.Close()

	identity, err := remote.CurrentUser(cmd.Context())
	if err != nil {
		return fmt.Errorf("not signed in: %w", err)
	}

	contacts, err := remote.ListUsers(cmd.Context(), identity.ID)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		fmt.Println("No contacts yet")
		return nil
	}
	for _, contact := range contacts {
		fmt.Printf("%-24s %s\n", contact.DisplayName(), contact.Email)
	}
	return nil
}
