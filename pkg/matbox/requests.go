package matbox

// AddMaterialRequest contains parameters for uploading a new material
type AddMaterialRequest struct {
	OwnerID  string
	Name     string
	Category string
	Content  []byte
}

// AddVersionRequest contains parameters for uploading a new version of an existing material
type AddVersionRequest struct {
	OwnerID string
	Name    string
	Content []byte
}

// FilterRequest selects versions by category and inclusive size bounds
type FilterRequest struct {
	OwnerID  string
	Category string
	MinSize  int64
	MaxSize  int64
}

// ChangeCategoryRequest contains parameters for recategorizing a material
type ChangeCategoryRequest struct {
	OwnerID  string
	Name     string
	Category string
}
