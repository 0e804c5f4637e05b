package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"farmcore/internal/blob"
	"farmcore/internal/qrpayload"
	"farmcore/internal/sequence"
	"farmcore/pkg/domain"

	"github.com/sethvargo/go-retry"
)

// RegisterAnimal validates the draft, assigns the next identifier for its
// sex and breed, persists the record, and then renders its payload.
//
// The identifier is committed before the payload is produced. When payload
// rendering or storage fails the registered animal is still returned, along
// with a *PayloadEncodingError.
func (s *Service) RegisterAnimal(ctx context.Context, draft domain.AnimalDraft) (domain.Animal, []byte, error) {
	var (
		created domain.Animal
		png     []byte
	)
	err := s.run(ctx, opRegisterAnimal, func(ctx context.Context) (string, error) {
		if err := s.validateAnimalDraft(draft); err != nil {
			return "", err
		}
		prefix, err := sequence.Prefix(draft.Sex, draft.Breed)
		if err != nil {
			return "", invalidInput(err)
		}
		if err := s.checkParentsExist(ctx, draft.FatherID, draft.MotherID); err != nil {
			return "", err
		}
		created, err = s.insertAnimal(ctx, prefix, draft)
		if err != nil {
			return "", err
		}
		s.logger.Info("animal registered", "animal_id", created.Identifier, "id", created.ID)

		var perr error
		created, png, perr = s.writePayload(ctx, created)
		if perr != nil {
			s.logger.Warn("payload not stored", "animal_id", created.Identifier, "error", perr)
			return created.ID, &PayloadEncodingError{AnimalID: created.Identifier, Err: perr}
		}
		return created.ID, nil
	})
	return created, png, err
}

// RegisterAnimalWithRetry retries RegisterAnimal while identifier allocation
// conflicts, backing off exponentially.
func (s *Service) RegisterAnimalWithRetry(ctx context.Context, draft domain.AnimalDraft) (domain.Animal, []byte, error) {
	var (
		animal domain.Animal
		png    []byte
	)
	backoff := retry.WithMaxRetries(s.retryAttempts, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		animal, png, err = s.RegisterAnimal(ctx, draft)
		if errors.Is(err, ErrAllocationConflict) {
			s.logger.Debug("retrying identifier allocation", "breed", draft.Breed, "sex", draft.Sex, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	return animal, png, err
}

func (s *Service) insertAnimal(ctx context.Context, prefix string, draft domain.AnimalDraft) (domain.Animal, error) {
	txAlloc, inTx := s.allocator.(sequence.TxAllocator)
	var number int64
	if !inTx {
		n, err := s.allocator.Next(ctx, prefix)
		if err != nil {
			return domain.Animal{}, &AllocationConflictError{Prefix: prefix, Err: err}
		}
		number = n
	}

	var created domain.Animal
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if inTx {
			n, err := txAlloc.Reserve(tx, prefix)
			if err != nil {
				return &AllocationConflictError{Prefix: prefix, Err: err}
			}
			number = n
		}
		animal := animalFromDraft(draft)
		animal.Identifier = sequence.Format(prefix, number)
		var err error
		created, err = tx.CreateAnimal(animal)
		if errors.Is(err, domain.ErrDuplicateIdentifier) {
			return &AllocationConflictError{Prefix: prefix, Number: number, Err: err}
		}
		return err
	})
	return created, err
}

func animalFromDraft(d domain.AnimalDraft) domain.Animal {
	health := strings.TrimSpace(d.HealthStatus)
	if health == "" {
		health = domain.DefaultHealthStatus
	}
	return domain.Animal{
		Name:         strings.TrimSpace(d.Name),
		Sex:          d.Sex,
		Breed:        d.Breed,
		YearOfBirth:  d.YearOfBirth,
		FatherID:     d.FatherID,
		MotherID:     d.MotherID,
		Weight:       d.Weight,
		HealthStatus: health,
		Notes:        d.Notes,
	}
}

func (s *Service) validateAnimalDraft(d domain.AnimalDraft) error {
	if err := s.validate.Struct(d); err != nil {
		return invalidInput(err)
	}
	if year := s.clock.Now().Year(); d.YearOfBirth > year {
		return invalidInput(fmt.Errorf("year of birth %d is after %d", d.YearOfBirth, year))
	}
	if d.Weight != nil && d.Weight.IsNegative() {
		return invalidInput(errors.New("weight must not be negative"))
	}
	return nil
}

// checkParentsExist rejects unknown parents before a number is reserved, so
// a doomed registration does not consume one from an external allocator.
// Sex and self-reference are enforced by LineageRule at commit.
func (s *Service) checkParentsExist(ctx context.Context, ids ...*string) error {
	return s.store.View(ctx, func(v domain.TransactionView) error {
		for _, id := range ids {
			if id == nil {
				continue
			}
			if _, ok := v.FindAnimal(*id); !ok {
				return ErrNotFound{Entity: domain.EntityAnimal, ID: *id}
			}
		}
		return nil
	})
}

// writePayload renders the animal's current public fields, replaces the
// stored image, and records its key on the animal.
func (s *Service) writePayload(ctx context.Context, a domain.Animal) (domain.Animal, []byte, error) {
	var father, mother *domain.Animal
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		if a.FatherID != nil {
			if f, ok := v.FindAnimal(*a.FatherID); ok {
				father = &f
			}
		}
		if a.MotherID != nil {
			if m, ok := v.FindAnimal(*a.MotherID); ok {
				mother = &m
			}
		}
		return nil
	})
	if err != nil {
		return a, nil, err
	}

	png, err := s.encoder.Encode(qrpayload.SnapshotOf(a, father, mother, s.farm))
	if err != nil {
		return a, nil, err
	}
	key := sequence.BlobKey(a.Identifier)
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		return a, nil, fmt.Errorf("remove previous payload: %w", err)
	}
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(png), blob.PutOptions{
		ContentType: qrpayload.ContentType,
		Metadata:    map[string]string{"animal_id": a.Identifier},
	}); err != nil {
		return a, nil, fmt.Errorf("store payload: %w", err)
	}
	if a.PayloadKey == key {
		return a, png, nil
	}

	updated := a
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateAnimal(a.ID, func(cur *domain.Animal) error {
			cur.PayloadKey = key
			return nil
		})
		return err
	})
	if err != nil {
		return a, nil, fmt.Errorf("record payload key: %w", err)
	}
	return updated, png, nil
}

// RegeneratePayload re-renders the payload from the animal's current fields,
// recreating a missing image.
func (s *Service) RegeneratePayload(ctx context.Context, id string) (domain.Animal, []byte, error) {
	var (
		animal domain.Animal
		png    []byte
	)
	err := s.run(ctx, opRegeneratePayload, func(ctx context.Context) (string, error) {
		current, err := s.GetAnimal(ctx, id)
		if err != nil {
			return id, err
		}
		animal, png, err = s.writePayload(ctx, current)
		if err != nil {
			return id, &PayloadEncodingError{AnimalID: current.Identifier, Err: err}
		}
		return id, nil
	})
	return animal, png, err
}

// Payload returns the stored payload image, rendering it first when the
// animal has none or the stored object is gone.
func (s *Service) Payload(ctx context.Context, id string) ([]byte, error) {
	var png []byte
	err := s.run(ctx, opReadPayload, func(ctx context.Context) (string, error) {
		animal, err := s.GetAnimal(ctx, id)
		if err != nil {
			return id, err
		}
		if animal.PayloadKey != "" {
			_, rc, err := s.blobs.Get(ctx, animal.PayloadKey)
			switch {
			case err == nil:
				defer func() { _ = rc.Close() }()
				png, err = io.ReadAll(rc)
				return id, err
			case !errors.Is(err, blob.ErrNotFound):
				return id, err
			}
			s.logger.Warn("payload missing, regenerating", "animal_id", animal.Identifier, "key", animal.PayloadKey)
		}
		_, png, err = s.writePayload(ctx, animal)
		if err != nil {
			return id, &PayloadEncodingError{AnimalID: animal.Identifier, Err: err}
		}
		return id, nil
	})
	return png, err
}

// PayloadURL returns a link to the stored payload image. It is empty when the
// animal has no image yet or the blob driver cannot produce links.
func (s *Service) PayloadURL(ctx context.Context, id string) (string, error) {
	animal, err := s.GetAnimal(ctx, id)
	if err != nil || animal.PayloadKey == "" {
		return "", err
	}
	url, err := s.blobs.PresignURL(ctx, animal.PayloadKey, blob.SignedURLOptions{Method: "GET"})
	if errors.Is(err, blob.ErrUnsupported) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("payload url %s: %w", animal.Identifier, err)
	}
	return url, nil
}

// PrunePayloads deletes stored payload images whose animal no longer exists
// and returns their keys. Images of registered animals are kept even before
// their key is recorded.
func (s *Service) PrunePayloads(ctx context.Context) ([]string, error) {
	var removed []string
	err := s.run(ctx, opPrunePayloads, func(ctx context.Context) (string, error) {
		infos, err := s.blobs.List(ctx, sequence.BlobPrefix)
		if err != nil {
			return "", fmt.Errorf("list payloads: %w", err)
		}
		live := make(map[string]struct{})
		for _, a := range s.store.ListAnimals() {
			live[sequence.BlobKey(a.Identifier)] = struct{}{}
			if a.PayloadKey != "" {
				live[a.PayloadKey] = struct{}{}
			}
		}
		for _, info := range infos {
			if _, ok := live[info.Key]; ok {
				continue
			}
			if _, err := s.blobs.Delete(ctx, info.Key); err != nil {
				return "", fmt.Errorf("remove payload %s: %w", info.Key, err)
			}
			removed = append(removed, info.Key)
		}
		if len(removed) > 0 {
			s.logger.Info("orphaned payloads removed", "count", len(removed))
		}
		return "", nil
	})
	return removed, err
}

// UpdateAnimal applies mutator to the stored animal. Identifier, sex and breed
// are fixed; changing them fails with a rule violation. The payload is not
// re-rendered; call RegeneratePayload to refresh it.
func (s *Service) UpdateAnimal(ctx context.Context, id string, mutator func(*domain.Animal) error) (domain.Animal, error) {
	var updated domain.Animal
	err := s.run(ctx, opUpdateAnimal, func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, ok := tx.FindAnimal(id); !ok {
				return ErrNotFound{Entity: domain.EntityAnimal, ID: id}
			}
			var err error
			updated, err = tx.UpdateAnimal(id, mutator)
			return err
		})
		return id, err
	})
	return updated, err
}

// DeleteAnimal removes the animal, clears parent references held by its
// offspring, and discards its payload image.
func (s *Service) DeleteAnimal(ctx context.Context, id string) error {
	return s.run(ctx, opDeleteAnimal, func(ctx context.Context) (string, error) {
		var removed domain.Animal
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			current, ok := tx.FindAnimal(id)
			if !ok {
				return ErrNotFound{Entity: domain.EntityAnimal, ID: id}
			}
			removed = current
			return tx.DeleteAnimal(id)
		})
		if err != nil {
			return id, err
		}
		if removed.PayloadKey != "" {
			if _, err := s.blobs.Delete(ctx, removed.PayloadKey); err != nil {
				s.logger.Warn("payload not removed", "animal_id", removed.Identifier, "key", removed.PayloadKey, "error", err)
			}
		}
		return id, nil
	})
}

// GetAnimal returns the animal with the given record ID.
func (s *Service) GetAnimal(_ context.Context, id string) (domain.Animal, error) {
	a, ok := s.store.GetAnimal(id)
	if !ok {
		return domain.Animal{}, ErrNotFound{Entity: domain.EntityAnimal, ID: id}
	}
	return a, nil
}

// FindAnimalByIdentifier looks an animal up by its assigned identifier.
func (s *Service) FindAnimalByIdentifier(ctx context.Context, identifier string) (domain.Animal, error) {
	var found domain.Animal
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		a, ok := v.FindAnimalByIdentifier(identifier)
		if !ok {
			return ErrNotFound{Entity: domain.EntityAnimal, ID: identifier}
		}
		found = a
		return nil
	})
	return found, err
}

// ListAnimals returns every animal, newest first.
func (s *Service) ListAnimals(_ context.Context) []domain.Animal {
	return s.store.ListAnimals()
}

// Parents splits the herd into candidate fathers and mothers.
func (s *Service) Parents(_ context.Context) (fathers, mothers []domain.Animal) {
	for _, a := range s.store.ListAnimals() {
		switch a.Sex {
		case domain.SexMale:
			fathers = append(fathers, a)
		case domain.SexFemale:
			mothers = append(mothers, a)
		}
	}
	return fathers, mothers
}

// Offspring lists animals naming id as father or mother.
func (s *Service) Offspring(ctx context.Context, id string) ([]domain.Animal, error) {
	if _, err := s.GetAnimal(ctx, id); err != nil {
		return nil, err
	}
	var out []domain.Animal
	for _, a := range s.store.ListAnimals() {
		if (a.FatherID != nil && *a.FatherID == id) || (a.MotherID != nil && *a.MotherID == id) {
			out = append(out, a)
		}
	}
	return out, nil
}

// OffspringCount returns how many animals name id as a parent.
func (s *Service) OffspringCount(ctx context.Context, id string) (int, error) {
	offspring, err := s.Offspring(ctx, id)
	return len(offspring), err
}
