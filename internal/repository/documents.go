package repository

import (
	"vault_chat/internal/domain"
	"vault_chat/internal/store"
)

// Имена коллекций и полей документов.
const (
	CollectionUsers    = "users"
	collectionChats    = "chats"
	collectionMessages = "messages"
	collectionStories  = "stories"

	fieldRole        = "role"
	fieldDisplayName = "displayName"
	fieldAvatarURL   = "avatarUrl"

	fieldSender  = "sender"
	fieldText    = "text"
	fieldFileRef = "fileRef"
	fieldFileURL = "fileUrl"
	fieldRead    = "read"

	fieldUserID   = "userId"
	fieldMediaRef = "mediaRef"
	// Ранние записи хранили готовый URL; новые хранят только mediaRef.
	fieldMediaURL = "mediaUrl"
	fieldCaption  = "caption"
	fieldViews    = "views"
)

// MessagesCollection - путь вложенной коллекции сообщений беседы.
func MessagesCollection(conversationID string) string {
	return store.CollectionPath(collectionChats, conversationID, collectionMessages)
}

func userFromDocument(doc store.Document) *domain.User {
	user := &domain.User{
		UID:         doc.Ref.ID,
		Role:        stringField(doc.Fields, fieldRole),
		DisplayName: stringField(doc.Fields, fieldDisplayName),
	}
	if avatar := stringField(doc.Fields, fieldAvatarURL); avatar != "" {
		user.AvatarURL = &avatar
	}
	return user
}

// UserFields - представление профиля в хранилище; используется при заполнении тестовыми данными.
func UserFields(user *domain.User) map[string]any {
	fields := map[string]any{
		fieldRole:        user.Role,
		fieldDisplayName: user.DisplayName,
	}
	if user.AvatarURL != nil {
		fields[fieldAvatarURL] = *user.AvatarURL
	}
	return fields
}

func messageFromDocument(conversationID string, doc store.Document) *domain.Message {
	return &domain.Message{
		ID:             doc.Ref.ID,
		ConversationID: conversationID,
		Sender:         stringField(doc.Fields, fieldSender),
		Text:           stringField(doc.Fields, fieldText),
		FileRef:        stringField(doc.Fields, fieldFileRef),
		FileURL:        stringField(doc.Fields, fieldFileURL),
		CreatedAt:      doc.CreatedAt,
		Read:           boolField(doc.Fields, fieldRead),
	}
}

func messageToFields(msg *domain.Message) map[string]any {
	fields := map[string]any{
		fieldSender: msg.Sender,
		fieldText:   msg.Text,
		fieldRead:   msg.Read,
	}
	if msg.FileRef != "" {
		fields[fieldFileRef] = msg.FileRef
	}
	return fields
}

func storyFromDocument(doc store.Document) *domain.Story {
	return &domain.Story{
		ID:        doc.Ref.ID,
		AuthorID:  stringField(doc.Fields, fieldUserID),
		MediaRef:  stringField(doc.Fields, fieldMediaRef),
		MediaURL:  stringField(doc.Fields, fieldMediaURL),
		Caption:   stringField(doc.Fields, fieldCaption),
		CreatedAt: doc.CreatedAt,
		Viewers:   stringsField(doc.Fields, fieldViews),
	}
}

func storyToFields(story *domain.Story) map[string]any {
	viewers := make([]any, 0, len(story.Viewers))
	for _, v := range story.Viewers {
		viewers = append(viewers, v)
	}
	return map[string]any{
		fieldUserID:   story.AuthorID,
		fieldMediaRef: story.MediaRef,
		fieldCaption:  story.Caption,
		fieldViews:    viewers,
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func boolField(fields map[string]any, key string) bool {
	b, _ := fields[key].(bool)
	return b
}

// stringsField читает массив строк; после JSON он приходит как []any.
func stringsField(fields map[string]any, key string) []string {
	switch v := fields[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
