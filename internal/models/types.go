package models

import "time"

// Message is a single iMessage/SMS row.
// RowID is the source database rowid and, with Date, forms the backfill cursor.
type Message struct {
	ID           string       `json:"id" validate:"required"`
	RowID        int64        `json:"rowId"`
	Text         string       `json:"text"`
	Contact      string       `json:"contact"`
	ContactIndex string       `json:"contactIndex,omitempty"`
	IsFromMe     bool         `json:"isFromMe"`
	Date         time.Time    `json:"date" validate:"required"`
	ChatID       string       `json:"chatId"`
	IsGroup      bool         `json:"isGroup"`
	Service      string       `json:"service,omitempty"`
	Attachments  []Attachment `json:"attachments" validate:"dive"`
}

// Attachment belongs to a Message. DataBase64 is empty when attachments
// are not collected.
type Attachment struct {
	ID         string `json:"id" validate:"required"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType"`
	Size       int64  `json:"size" validate:"gte=0"`
	DataBase64 string `json:"dataBase64,omitempty"`
}

// WhatsAppMessage is a message read from a WhatsApp export.
type WhatsAppMessage struct {
	ID                     string    `json:"id" validate:"required"`
	RowID                  int64     `json:"rowId"`
	ChatJID                string    `json:"chatJid" validate:"required"`
	ChatName               string    `json:"chatName"`
	ChatNameIndex          string    `json:"chatNameIndex,omitempty"`
	Text                   string    `json:"text"`
	SenderName             string    `json:"senderName"`
	SenderNameIndex        string    `json:"senderNameIndex,omitempty"`
	SenderPhoneNumber      string    `json:"senderPhoneNumber"`
	SenderPhoneNumberIndex string    `json:"senderPhoneNumberIndex,omitempty"`
	IsFromMe               bool      `json:"isFromMe"`
	IsGroup                bool      `json:"isGroup"`
	Timestamp              time.Time `json:"timestamp" validate:"required"`
}

type Contact struct {
	ID                string   `json:"id" validate:"required"`
	FirstName         string   `json:"firstName"`
	FirstNameIndex    string   `json:"firstNameIndex,omitempty"`
	LastName          string   `json:"lastName"`
	LastNameIndex     string   `json:"lastNameIndex,omitempty"`
	Organization      string   `json:"organization"`
	Emails            []string `json:"emails"`
	PhoneNumbers      []string `json:"phoneNumbers"`
	PhoneNumbersIndex []string `json:"phoneNumbersIndex,omitempty"`
}

type Reminder struct {
	ID               string     `json:"id" validate:"required"`
	Title            string     `json:"title" validate:"required"`
	Notes            string     `json:"notes"`
	ListName         string     `json:"listName"`
	Completed        bool       `json:"completed"`
	Flagged          bool       `json:"flagged"`
	Priority         int        `json:"priority" validate:"gte=0,lte=9"`
	DueDate          *time.Time `json:"dueDate"`
	CompletionDate   *time.Time `json:"completionDate"`
	CreationDate     *time.Time `json:"creationDate"`
	LastModifiedDate *time.Time `json:"lastModifiedDate"`
}

type Note struct {
	ID          int64     `json:"id" validate:"required,gt=0"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	FolderName  string    `json:"folderName"`
	AccountName string    `json:"accountName"`
	IsPinned    bool      `json:"isPinned"`
	CreatedAt   time.Time `json:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt" validate:"required"`
}

// Sticky is a desktop sticky note.
type Sticky struct {
	ID         string    `json:"id" validate:"required"`
	Text       string    `json:"text"`
	Color      string    `json:"color,omitempty"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Screenshot is one captured screen image. Data holds the image bytes as
// base64 and is encrypted before upload.
type Screenshot struct {
	ID         string    `json:"id" validate:"required"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	Width      int       `json:"width" validate:"gte=0"`
	Height     int       `json:"height" validate:"gte=0"`
	Size       int64     `json:"size" validate:"gte=0"`
	CapturedAt time.Time `json:"capturedAt" validate:"required"`
	Data       string    `json:"data" validate:"required"`
}
