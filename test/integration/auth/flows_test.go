// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package auth_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	goredis "github.com/redis/go-redis/v9"

	"github.com/holomush/authcore/internal/auth"
	authredis "github.com/holomush/authcore/internal/auth/redis"
)

const password = "Abc12345!"

var _ = Describe("Auth flows on PostgreSQL", func() {
	var (
		ctx context.Context
		s   *stack
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx, env.pool)
		s = newStack(nil)
	})

	Describe("registration", func() {
		It("creates a verified account from a delivered code", func() {
			account := s.register(ctx, "alice", "Alice@Example.com")

			stored, err := s.accounts.GetByEmail(ctx, "alice@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ID).To(Equal(account.ID))
			Expect(stored.EmailVerified).To(BeTrue())
			Expect(stored.PasswordHash).NotTo(ContainSubstring(password))
		})

		It("rejects a second account with the same email", func() {
			s.register(ctx, "alice", "alice@example.com")

			err := s.registration.Initiate(ctx, authDraft("alice2", "alice@example.com"))
			Expect(err).To(MatchError(auth.ErrConflict))
			Expect(auth.ConflictField(err)).To(Equal("email"))
		})

		It("accepts a code only once", func() {
			draft := authDraft("bob", "bob@example.com")
			Expect(s.registration.Initiate(ctx, draft)).To(Succeed())
			code := s.outbox.LastCode("bob@example.com")

			_, err := s.registration.Complete(ctx, draft, code)
			Expect(err).NotTo(HaveOccurred())

			ok, err := s.otp.Verify(ctx, "bob@example.com", code)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("rejects a code after it expires", func() {
			draft := authDraft("carol", "carol@example.com")
			Expect(s.registration.Initiate(ctx, draft)).To(Succeed())
			code := s.outbox.LastCode("carol@example.com")

			s.clock.Advance(auth.DefaultCodeTTL + time.Second)
			_, err := s.registration.Complete(ctx, draft, code)
			Expect(err).To(MatchError(auth.ErrInvalidCredential))
		})
	})

	Describe("login and lockout", func() {
		BeforeEach(func() {
			s.register(ctx, "dave", "dave@example.com")
		})

		It("logs in by email or username", func() {
			byEmail, err := s.auth.Login(ctx, auth.LoginRequest{Identifier: "DAVE@example.com", Password: password})
			Expect(err).NotTo(HaveOccurred())
			byName, err := s.auth.Login(ctx, auth.LoginRequest{Identifier: "dave", Password: password})
			Expect(err).NotTo(HaveOccurred())
			Expect(byName.Account.ID).To(Equal(byEmail.Account.ID))

			claims, err := s.auth.ValidateAccessToken(byName.Tokens.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims.Username).To(Equal("dave"))
		})

		It("locks the account after repeated failures and unlocks after the window", func() {
			for range auth.DefaultLockoutThreshold {
				_, err := s.auth.Login(ctx, auth.LoginRequest{Identifier: "dave", Password: "Wrong1234!"})
				Expect(err).To(MatchError(auth.ErrInvalidCredential))
			}

			_, err := s.auth.Login(ctx, auth.LoginRequest{Identifier: "dave", Password: password})
			Expect(err).To(MatchError(auth.ErrAccountLocked))

			s.clock.Advance(auth.DefaultLockoutDuration + time.Second)
			result, err := s.auth.Login(ctx, auth.LoginRequest{Identifier: "dave", Password: password})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Account.FailedAttempts).To(BeZero())
		})

		It("resets the failure counter on success", func() {
			for range auth.DefaultLockoutThreshold - 1 {
				_, _ = s.auth.Login(ctx, auth.LoginRequest{Identifier: "dave", Password: "Wrong1234!"})
			}
			_, err := s.auth.Login(ctx, auth.LoginRequest{Identifier: "dave", Password: password})
			Expect(err).NotTo(HaveOccurred())

			stored, err := s.accounts.GetByUsername(ctx, "dave")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.FailedAttempts).To(BeZero())
			Expect(stored.LockedUntil).To(BeNil())
		})
	})

	Describe("refresh tokens", func() {
		var first *auth.TokenPair

		BeforeEach(func() {
			s.register(ctx, "erin", "erin@example.com")
			result, err := s.auth.Login(ctx, auth.LoginRequest{Identifier: "erin", Password: password})
			Expect(err).NotTo(HaveOccurred())
			first = result.Tokens
		})

		It("rotates the refresh token and rejects reuse", func() {
			second, err := s.auth.RefreshTokens(ctx, first.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.RefreshToken).NotTo(Equal(first.RefreshToken))

			_, err = s.auth.RefreshTokens(ctx, first.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})

		It("rejects the refresh token after logout", func() {
			account, err := s.accounts.GetByUsername(ctx, "erin")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.auth.Logout(ctx, account.ID)).To(Succeed())

			_, err = s.auth.RefreshTokens(ctx, first.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
		})

		It("rejects the refresh token after the email is unverified", func() {
			account, err := s.accounts.GetByUsername(ctx, "erin")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.auth.SetEmailVerified(ctx, account.ID, false)).To(Succeed())

			_, err = s.auth.RefreshTokens(ctx, first.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
			_, err = s.auth.Login(ctx, auth.LoginRequest{Identifier: "erin", Password: password})
			Expect(err).To(MatchError(auth.ErrEmailNotVerified))
		})
	})

	Describe("password reset", func() {
		BeforeEach(func() {
			s.register(ctx, "frank", "frank@example.com")
		})

		It("replaces the password and revokes sessions", func() {
			result, err := s.auth.Login(ctx, auth.LoginRequest{Identifier: "frank", Password: password})
			Expect(err).NotTo(HaveOccurred())

			Expect(s.reset.RequestReset(ctx, "frank@example.com")).To(Succeed())
			code := s.outbox.LastCode("frank@example.com")
			Expect(s.reset.ConfirmReset(ctx, "frank@example.com", code, "NewPass123!")).To(Succeed())

			_, err = s.auth.RefreshTokens(ctx, result.Tokens.RefreshToken)
			Expect(err).To(MatchError(auth.ErrInvalidToken))
			_, err = s.auth.Login(ctx, auth.LoginRequest{Identifier: "frank", Password: password})
			Expect(err).To(MatchError(auth.ErrInvalidCredential))
			_, err = s.auth.Login(ctx, auth.LoginRequest{Identifier: "frank", Password: "NewPass123!"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports unknown emails", func() {
			err := s.reset.RequestReset(ctx, "nobody@example.com")
			Expect(err).To(MatchError(auth.ErrNotFound))
		})
	})

	Describe("code purging", func() {
		It("removes only expired codes", func() {
			Expect(s.otp.Send(ctx, "one@example.com")).To(Succeed())
			s.clock.Advance(auth.DefaultCodeTTL + time.Second)
			Expect(s.otp.Send(ctx, "two@example.com")).To(Succeed())

			n, err := s.otp.PurgeExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			ok, err := s.otp.Verify(ctx, "two@example.com", s.outbox.LastCode("two@example.com"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})
})

var _ = Describe("Registration with the Redis code store", func() {
	var (
		ctx context.Context
		mr  *miniredis.Miniredis
		rdb *goredis.Client
		s   *stack
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx, env.pool)

		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		rdb = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		codes, err := authredis.NewCodeStore(rdb, "")
		Expect(err).NotTo(HaveOccurred())
		s = newStack(codes)
	})

	AfterEach(func() {
		_ = rdb.Close()
		mr.Close()
	})

	It("stores codes in Redis and accounts in PostgreSQL", func() {
		account := s.register(ctx, "grace", "grace@example.com")

		stored, err := s.accounts.GetByID(ctx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Username).To(Equal("grace"))

		var count int
		Expect(env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM one_time_codes").Scan(&count)).To(Succeed())
		Expect(count).To(BeZero())
	})
})

func authDraft(username, email string) auth.RegistrationDraft {
	return auth.RegistrationDraft{
		Username:  username,
		Email:     email,
		Password:  password,
		FirstName: "Test",
		LastName:  "User",
	}
}
