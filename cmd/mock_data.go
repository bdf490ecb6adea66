package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"reflect"

	"github.com/go-faker/faker/v4"
	"github.com/relaymail/relaymail/lib"
	"github.com/relaymail/relaymail/models"
	"github.com/relaymail/relaymail/server"
)

type seedOptions struct {
	Accounts       int
	KeysPerAccount int
	EmailsPerKey   int
}

type mockAccount struct {
	Email    string `faker:"email"`
	Password string `faker:"password"`
}

type mockEmail struct {
	Recipient string `faker:"email"`
	Subject   string `faker:"sentence"`
	Status    string `faker:"deliverystatus"`
	Error     string `faker:"sentence"`
}

func init() {
	err := faker.AddProvider("deliverystatus", func(v reflect.Value) (interface{}, error) {
		statuses := []string{string(models.Sent), string(models.Sent), string(models.Sent), string(models.Failed)}
		return statuses[rand.Intn(len(statuses))], nil
	})
	if err != nil {
		return
	}
}

func createMockData(ctx context.Context, out io.Writer, app *server.App, opts seedOptions) error {
	for i := 0; i < opts.Accounts; i++ {
		fake := &mockAccount{}
		if err := faker.FakeData(fake); err != nil {
			return fmt.Errorf("generate account: %w", err)
		}
		account, err := app.Accounts.Create(ctx, fake.Email, fake.Password)
		if errors.Is(err, lib.ErrEmailTaken) {
			fmt.Fprintf(out, "skipping %s: already registered\n", fake.Email)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "account %d: %s / %s\n", account.Id, account.Email, fake.Password)

		for k := 0; k < opts.KeysPerAccount; k++ {
			key, err := app.Keys.Create(ctx, account.Id, fmt.Sprintf("Seed key %d", k+1))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  key %d (%s): %s\n", key.Id, key.Name, key.Token)

			if err := createMockEmails(ctx, app.Logs, key.Id, opts.EmailsPerKey); err != nil {
				return err
			}
		}
	}
	return nil
}

func createMockEmails(ctx context.Context, logs *lib.DeliveryLog, keyID uint, count int) error {
	for i := 0; i < count; i++ {
		fake := &mockEmail{}
		if err := faker.FakeData(fake); err != nil {
			return fmt.Errorf("generate email log: %w", err)
		}
		entry, err := logs.Create(ctx, fake.Recipient, fake.Subject, keyID)
		if err != nil {
			return err
		}
		status := models.DeliveryStatus(fake.Status)
		errText := ""
		if status == models.Failed {
			errText = fake.Error
		}
		if err := logs.Finalize(ctx, entry, status, errText); err != nil {
			return err
		}
	}
	return nil
}
