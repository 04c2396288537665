package rowstore

import "time"

// NotificationKind enumerates the actions that produce notifications.
type NotificationKind string

const (
	// NotificationKindComment marks a comment left on a post.
	NotificationKindComment NotificationKind = "comment"
	// NotificationKindReaction marks a reaction added to a post.
	NotificationKindReaction NotificationKind = "reaction"
)

// Record carries the columns shared by every console table.
type Record struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// Key returns the primary key of the row.
func (r *Record) Key() string {
	return r.ID
}

func (r *Record) assignKey(id string) {
	r.ID = id
}

func (r *Record) createdAt() time.Time {
	return r.CreatedAt
}

func (r *Record) stampCreatedAt(at time.Time) {
	r.CreatedAt = at
}

type record interface {
	Key() string
	assignKey(id string)
	createdAt() time.Time
	stampCreatedAt(at time.Time)
}

// User is a console account.
type User struct {
	Record
	Email     string  `gorm:"column:email;size:320;not null" json:"email"`
	FullName  string  `gorm:"column:full_name;size:320;not null" json:"full_name"`
	AvatarURL *string `gorm:"column:avatar_url;size:512" json:"avatar_url"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Category groups products and posts.
type Category struct {
	Record
	Name string `gorm:"column:name;size:190;not null" json:"name"`
}

// TableName provides the explicit table binding for GORM.
func (Category) TableName() string {
	return "categories"
}

// Product is a catalog entry with an optional category reference.
type Product struct {
	Record
	Name        string    `gorm:"column:name;size:190;not null" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	Price       float64   `gorm:"column:price;not null;default:0" json:"price"`
	Stock       int64     `gorm:"column:stock;not null;default:0" json:"stock"`
	CategoryID  *string   `gorm:"column:category_id;size:64" json:"category_id"`
	Category    *Category `gorm:"foreignKey:CategoryID" json:"categories,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Product) TableName() string {
	return "products"
}

// Post is authored by a user and optionally categorised.
type Post struct {
	Record
	Title      string    `gorm:"column:title;size:320;not null" json:"title"`
	Content    string    `gorm:"column:content;type:text" json:"content"`
	UserID     string    `gorm:"column:user_id;size:64;not null;index" json:"user_id"`
	CategoryID *string   `gorm:"column:category_id;size:64" json:"category_id"`
	User       *User     `gorm:"foreignKey:UserID" json:"users,omitempty"`
	Category   *Category `gorm:"foreignKey:CategoryID" json:"categories,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// Comment is left by a user on a post.
type Comment struct {
	Record
	PostID  string `gorm:"column:post_id;size:64;not null;index" json:"post_id"`
	UserID  string `gorm:"column:user_id;size:64;not null" json:"user_id"`
	Content string `gorm:"column:content;type:text;not null" json:"content"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// Reaction is a typed reaction (like, love, ...) on a post.
type Reaction struct {
	Record
	PostID string `gorm:"column:post_id;size:64;not null;index" json:"post_id"`
	UserID string `gorm:"column:user_id;size:64;not null" json:"user_id"`
	Type   string `gorm:"column:type;size:32;not null" json:"type"`
}

// TableName provides the explicit table binding for GORM.
func (Reaction) TableName() string {
	return "reactions"
}

// Order is a purchase placed by a user.
type Order struct {
	Record
	UserID string  `gorm:"column:user_id;size:64;not null;index" json:"user_id"`
	Total  float64 `gorm:"column:total;not null;default:0" json:"total"`
	Status string  `gorm:"column:status;size:32;not null" json:"status"`
}

// TableName provides the explicit table binding for GORM.
func (Order) TableName() string {
	return "orders"
}

// Location is a physical venue for appointments.
type Location struct {
	Record
	Name       string `gorm:"column:name;size:190;not null" json:"name"`
	Address    string `gorm:"column:address;size:320;not null" json:"address"`
	City       string `gorm:"column:city;size:190;not null" json:"city"`
	State      string `gorm:"column:state;size:190" json:"state"`
	Country    string `gorm:"column:country;size:190" json:"country"`
	PostalCode string `gorm:"column:postal_code;size:32" json:"postal_code"`
}

// TableName provides the explicit table binding for GORM.
func (Location) TableName() string {
	return "locations"
}

// Appointment books a user into a location for a time range.
type Appointment struct {
	Record
	UserID     string    `gorm:"column:user_id;size:64;not null;index" json:"user_id"`
	LocationID string    `gorm:"column:location_id;size:64;not null;index" json:"location_id"`
	StartTime  time.Time `gorm:"column:start_time;not null;index" json:"start_time"`
	EndTime    time.Time `gorm:"column:end_time;not null" json:"end_time"`
	Status     string    `gorm:"column:status;size:32;not null;default:'scheduled'" json:"status"`
	Notes      *string   `gorm:"column:notes;type:text" json:"notes"`
	Location   *Location `gorm:"foreignKey:LocationID" json:"locations,omitempty"`
	User       *User     `gorm:"foreignKey:UserID" json:"users,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Appointment) TableName() string {
	return "appointments"
}

// Notification is created by the store when a comment or reaction lands on a
// post. Actor and Post are optional: either may have been deleted upstream.
type Notification struct {
	Record
	Kind       NotificationKind `gorm:"column:type;size:32;not null" json:"type"`
	Read       bool             `gorm:"column:read;not null;default:false;index" json:"read"`
	ActorID    *string          `gorm:"column:actor_id;size:64" json:"actor_id"`
	PostID     *string          `gorm:"column:post_id;size:64" json:"post_id"`
	CommentID  *string          `gorm:"column:comment_id;size:64" json:"comment_id"`
	ReactionID *string          `gorm:"column:reaction_id;size:64" json:"reaction_id"`
	Actor      *User            `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
	Post       *Post            `gorm:"foreignKey:PostID" json:"posts,omitempty"`
	Comment    *Comment         `gorm:"foreignKey:CommentID" json:"comments,omitempty"`
	Reaction   *Reaction        `gorm:"foreignKey:ReactionID" json:"reactions,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// Models lists every table model for schema migration.
func Models() []any {
	return []any{
		&User{},
		&Category{},
		&Product{},
		&Post{},
		&Comment{},
		&Reaction{},
		&Order{},
		&Location{},
		&Appointment{},
		&Notification{},
	}
}
