// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/AleutianAI/AleutianAnswers/services/orchestrator/datatypes"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// transcriptPrefix is the object prefix for archived transcripts in the
// bucket.
const transcriptPrefix = "transcripts/"

// Archiver writes completed session transcripts to Google Cloud Storage.
//
// # Description
//
// Archival is best-effort cold storage: a session deleted locally can still
// be audited from the bucket. The hot path never blocks on it; callers run
// Archive in the background and log failures.
type Archiver struct {
	storageClient *storage.Client
	bucketName    string
}

// NewArchiver builds an Archiver. saKeyPath may be empty to use ambient
// application-default credentials.
func NewArchiver(ctx context.Context, bucketName, saKeyPath string) (*Archiver, error) {
	if bucketName == "" {
		return nil, errors.New("bucket name is required")
	}

	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &Archiver{
		storageClient: storageClient,
		bucketName:    bucketName,
	}, nil
}

// Close releases the underlying storage client.
func (a *Archiver) Close() error {
	return a.storageClient.Close()
}

func transcriptObjectName(sessionId string, at time.Time) string {
	return fmt.Sprintf("%s%s/%s.json", transcriptPrefix, sessionId, at.UTC().Format("20060102T150405Z"))
}

// Archive uploads one session transcript as a timestamped JSON object.
func (a *Archiver) Archive(ctx context.Context, state *datatypes.ConversationState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode transcript for session %s: %w", state.SessionId, err)
	}

	objectName := transcriptObjectName(state.SessionId, time.Now())
	obj := a.storageClient.Bucket(a.bucketName).Object(objectName)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(encoded); err != nil {
		return fmt.Errorf("failed to write transcript object %s: %w", objectName, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", objectName, err)
	}

	slog.Info("Archived session transcript",
		"session_id", state.SessionId,
		"object", fmt.Sprintf("gs://%s/%s", a.bucketName, objectName))
	return nil
}

// ListArchived returns the object names of every archived transcript for a
// session, oldest first.
func (a *Archiver) ListArchived(ctx context.Context, sessionId string) ([]string, error) {
	prefix := transcriptPrefix + sessionId + "/"
	it := a.storageClient.Bucket(a.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list transcripts for session %s: %w", sessionId, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
