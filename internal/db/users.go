package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/gocql/gocql"
	"golang.org/x/crypto/bcrypt"
)

// User is the stored user row. Chats maps view chat ids to real chat ids.
type User struct {
	ID           int32
	Name         string
	Username     string
	PasswordHash string
	PhotoHash    string
	Sessions     []string
	Chats        map[int32]int32
}

// ChatLink is one entry of a user's chat list.
type ChatLink struct {
	View int32
	Real int32
}

// Users gates the users table.
type Users struct {
	cql *gocql.Session
}

const userColumns = "id, name, username, password_hash, photo_hash, sessions, chats"

// Register creates the user with a random positive id and returns it along
// with a fresh session token. Fails with ErrUsernameTaken on a handle
// collision; the id itself is guarded by a compare-and-set insert.
func (u *Users) Register(ctx context.Context, name, username, password string) (*User, string, error) {
	taken, err := u.UsernameExists(ctx, username)
	if err != nil {
		return nil, "", err
	}
	if taken {
		return nil, "", ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}
	token := NewSessionToken()

	user := &User{
		Name:         name,
		Username:     username,
		PasswordHash: string(hash),
		Sessions:     []string{token},
		Chats:        map[int32]int32{},
	}
	for {
		user.ID = randomPositiveID()
		applied, err := u.cql.Query(
			`INSERT INTO users (id, name, username, password_hash, photo_hash, sessions, chats)
			 VALUES (?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			user.ID, user.Name, user.Username, user.PasswordHash, "", user.Sessions, user.Chats,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return nil, "", fmt.Errorf("insert user: %w", err)
		}
		if applied {
			return user, token, nil
		}
	}
}

// Login verifies the password and appends a fresh session token.
func (u *Users) Login(ctx context.Context, username, password string) (*User, string, error) {
	user, err := u.FetchByUsername(ctx, username)
	if err != nil {
		if err == ErrNotFound {
			return nil, "", ErrWrongCredentials
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrWrongCredentials
	}

	token := NewSessionToken()
	if err := u.AddSession(ctx, user.ID, token); err != nil {
		return nil, "", err
	}
	user.Sessions = append(user.Sessions, token)
	return user, token, nil
}

// Auth reports whether the token is in the user's session set.
func (u *Users) Auth(ctx context.Context, id int32, token string) error {
	var sessions []string
	err := u.cql.Query(`SELECT sessions FROM users WHERE id = ?`, id).
		WithContext(ctx).Scan(&sessions)
	if err != nil {
		if notFound(err) {
			return ErrWrongCredentials
		}
		return fmt.Errorf("fetch sessions: %w", err)
	}
	for _, s := range sessions {
		if s == token {
			return nil
		}
	}
	return ErrWrongCredentials
}

func (u *Users) AddSession(ctx context.Context, id int32, token string) error {
	err := u.cql.Query(`UPDATE users SET sessions = sessions + ? WHERE id = ?`,
		[]string{token}, id).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("add session: %w", err)
	}
	return nil
}

func (u *Users) UsernameExists(ctx context.Context, username string) (bool, error) {
	var id int32
	err := u.cql.Query(`SELECT id FROM users WHERE username = ? LIMIT 1`, username).
		WithContext(ctx).Scan(&id)
	if err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("check username: %w", err)
	}
	return true, nil
}

func (u *Users) FetchUser(ctx context.Context, id int32) (*User, error) {
	user := &User{}
	err := u.cql.Query(`SELECT `+userColumns+` FROM users WHERE id = ?`, id).
		WithContext(ctx).
		Scan(&user.ID, &user.Name, &user.Username, &user.PasswordHash,
			&user.PhotoHash, &user.Sessions, &user.Chats)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	return user, nil
}

func (u *Users) FetchByUsername(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := u.cql.Query(`SELECT `+userColumns+` FROM users WHERE username = ? LIMIT 1`, username).
		WithContext(ctx).
		Scan(&user.ID, &user.Name, &user.Username, &user.PasswordHash,
			&user.PhotoHash, &user.Sessions, &user.Chats)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch user by username: %w", err)
	}
	return user, nil
}

// FetchChats returns the user's chat links ordered by view id so the list
// is stable across calls.
func (u *Users) FetchChats(ctx context.Context, id int32) ([]ChatLink, error) {
	var chats map[int32]int32
	err := u.cql.Query(`SELECT chats FROM users WHERE id = ?`, id).
		WithContext(ctx).Scan(&chats)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch chats: %w", err)
	}
	links := make([]ChatLink, 0, len(chats))
	for view, real := range chats {
		links = append(links, ChatLink{View: view, Real: real})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].View < links[j].View })
	return links, nil
}

// AddChat records the view→real link on the user row.
func (u *Users) AddChat(ctx context.Context, owner, view, real int32) error {
	err := u.cql.Query(`UPDATE users SET chats[?] = ? WHERE id = ?`, view, real, owner).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("add chat link: %w", err)
	}
	return nil
}

// AssociatedChatID resolves a view chat id to the stored real chat id.
// ErrNotFound means the user has no such chat.
func (u *Users) AssociatedChatID(ctx context.Context, owner, view int32) (int32, error) {
	var chats map[int32]int32
	err := u.cql.Query(`SELECT chats FROM users WHERE id = ?`, owner).
		WithContext(ctx).Scan(&chats)
	if err != nil {
		if notFound(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("resolve chat id: %w", err)
	}
	real, ok := chats[view]
	if !ok {
		return 0, ErrNotFound
	}
	return real, nil
}

func (u *Users) UpdateName(ctx context.Context, id int32, name string) error {
	err := u.cql.Query(`UPDATE users SET name = ? WHERE id = ?`, name, id).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("update name: %w", err)
	}
	return nil
}

func (u *Users) UpdateUsername(ctx context.Context, id int32, username string) error {
	err := u.cql.Query(`UPDATE users SET username = ? WHERE id = ?`, username, id).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("update username: %w", err)
	}
	return nil
}

func (u *Users) UpdatePhoto(ctx context.Context, id int32, photoHash string) error {
	err := u.cql.Query(`UPDATE users SET photo_hash = ? WHERE id = ?`, photoHash, id).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("update photo: %w", err)
	}
	return nil
}

// UpdatePassword verifies the old password before storing a new verifier.
func (u *Users) UpdatePassword(ctx context.Context, id int32, oldPassword, newPassword string) error {
	user, err := u.FetchUser(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)) != nil {
		return ErrWrongCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = u.cql.Query(`UPDATE users SET password_hash = ? WHERE id = ?`, string(hash), id).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
