package main

import (
	"encoding/json"
	"fmt"
	"os"

	"vault_chat/internal/domain"
	"vault_chat/internal/repository"
	"vault_chat/internal/store"
	"vault_chat/internal/store/memstore"
)

type seedUser struct {
	UID         string  `json:"uid"`
	Role        string  `json:"role"`
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
}

// seedUsers загружает каталог пользователей из JSON-файла в хранилище в памяти.
func seedUsers(docs *memstore.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var users []seedUser
	if err := json.Unmarshal(data, &users); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}

	for _, u := range users {
		if u.UID == "" {
			return 0, fmt.Errorf("user without uid in %s", path)
		}
		docs.Put(store.Ref{Collection: repository.CollectionUsers, ID: u.UID}, repository.UserFields(&domain.User{
			UID:         u.UID,
			Role:        u.Role,
			DisplayName: u.DisplayName,
			AvatarURL:   u.AvatarURL,
		}))
	}
	return len(users), nil
}
