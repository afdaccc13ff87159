package construct

type (
	// Properties are the CloudFormation properties of a resource. Values may be nested maps, slices, scalars
	// or Intrinsic values.
	Properties map[string]any

	Resource struct {
		ID             ResourceId
		Properties     Properties
		DeletionPolicy string
	}
)

const (
	DeletionPolicyDelete = "Delete"
	DeletionPolicyRetain = "Retain"
)

func NewResource(typ, name string, props Properties) *Resource {
	if props == nil {
		props = Properties{}
	}
	return &Resource{ID: ResourceId{Type: typ, Name: name}, Properties: props}
}

// References lists the logical names referenced anywhere in the resource's properties. Pseudo parameters
// are not included. Duplicates are possible.
func (r *Resource) References() []string {
	return referencedNames(r.Properties)
}
