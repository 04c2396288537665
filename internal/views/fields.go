package views

import "github.com/MarcoPoloResearchLab/console/internal/rowstore"

// AppointmentFields are searched by user name, location name and status.
func AppointmentFields(appointment rowstore.Appointment) []string {
	fields := []string{appointment.Status}
	if appointment.User != nil {
		fields = append(fields, appointment.User.FullName)
	}
	if appointment.Location != nil {
		fields = append(fields, appointment.Location.Name)
	}
	return fields
}

func LocationFields(location rowstore.Location) []string {
	return []string{location.Name, location.Address, location.City, location.State, location.Country}
}

func PostFields(post rowstore.Post) []string {
	fields := []string{post.Title, post.Content}
	if post.User != nil {
		fields = append(fields, post.User.FullName)
	}
	if post.Category != nil {
		fields = append(fields, post.Category.Name)
	}
	return fields
}

func ProductFields(product rowstore.Product) []string {
	fields := []string{product.Name, product.Description}
	if product.Category != nil {
		fields = append(fields, product.Category.Name)
	}
	return fields
}

func UserFields(user rowstore.User) []string {
	return []string{user.FullName, user.Email}
}
