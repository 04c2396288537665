package rowstore

import "github.com/MarcoPoloResearchLab/console/internal/changefeed"

const primaryKeyColumn = "id"

var (
	UserSet         = changefeed.EntitySet{Name: "users", PrimaryKey: primaryKeyColumn, OrderKey: "created_at", Descending: true}
	ProductSet      = changefeed.EntitySet{Name: "products", PrimaryKey: primaryKeyColumn, OrderKey: "created_at", Descending: true}
	PostSet         = changefeed.EntitySet{Name: "posts", PrimaryKey: primaryKeyColumn, OrderKey: "created_at", Descending: true}
	CommentSet      = changefeed.EntitySet{Name: "comments", PrimaryKey: primaryKeyColumn, OrderKey: "created_at", Descending: true}
	ReactionSet     = changefeed.EntitySet{Name: "reactions", PrimaryKey: primaryKeyColumn, OrderKey: "created_at", Descending: true}
	CategorySet     = changefeed.EntitySet{Name: "categories", PrimaryKey: primaryKeyColumn, OrderKey: "name"}
	OrderSet        = changefeed.EntitySet{Name: "orders", PrimaryKey: primaryKeyColumn, OrderKey: "created_at", Descending: true}
	AppointmentSet  = changefeed.EntitySet{Name: "appointments", PrimaryKey: primaryKeyColumn, OrderKey: "start_time"}
	LocationSet     = changefeed.EntitySet{Name: "locations", PrimaryKey: primaryKeyColumn, OrderKey: "created_at", Descending: true}
	NotificationSet = changefeed.EntitySet{Name: "notifications", PrimaryKey: primaryKeyColumn, OrderKey: "created_at", Descending: true}
)

// TrackedSets returns the entity sets shown on the dashboard, in display order.
func TrackedSets() []changefeed.EntitySet {
	return []changefeed.EntitySet{
		UserSet,
		ProductSet,
		PostSet,
		CommentSet,
		ReactionSet,
		CategorySet,
		OrderSet,
		AppointmentSet,
		LocationSet,
	}
}

// LookupSet resolves a declared entity set by name.
func LookupSet(name string) (changefeed.EntitySet, bool) {
	for _, set := range append(TrackedSets(), NotificationSet) {
		if set.Name == name {
			return set, true
		}
	}
	return changefeed.EntitySet{}, false
}
