package catalog

// RoleDefinition describes a named bundle of permissions seeded at install time
type RoleDefinition struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

// Built-in role names
const (
	RoleAdmin      = "Admin"
	RoleInstructor = "Instructor"
	RoleStudent    = "Student"
	RoleSupport    = "Support"
)

// BuiltInRoles returns the role definitions seeded into a fresh store.
// Administrators can modify these after seeding; the definitions here are
// only the starting point, not an enforcement baseline.
func BuiltInRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			Name:        RoleAdmin,
			Description: "Full access to every resource",
			Permissions: []Permission{
				{Resource: ResourceWildcard, Action: ActionCreate},
				{Resource: ResourceWildcard, Action: ActionRead},
				{Resource: ResourceWildcard, Action: ActionUpdate},
				{Resource: ResourceWildcard, Action: ActionDelete},
				{Resource: ResourceWildcard, Action: ActionEnroll},
				{Resource: ResourceWildcard, Action: ActionGrade},
			},
		},
		{
			Name:        RoleInstructor,
			Description: "Can manage courses and lessons and grade enrollments",
			Permissions: []Permission{
				{Resource: ResourceCourse, Action: ActionCreate},
				{Resource: ResourceCourse, Action: ActionRead},
				{Resource: ResourceCourse, Action: ActionUpdate},
				{Resource: ResourceLesson, Action: ActionCreate},
				{Resource: ResourceLesson, Action: ActionRead},
				{Resource: ResourceLesson, Action: ActionUpdate},
				{Resource: ResourceLesson, Action: ActionDelete},
				{Resource: ResourceEnrollment, Action: ActionRead},
				{Resource: ResourceEnrollment, Action: ActionGrade},
			},
		},
		{
			Name:        RoleStudent,
			Description: "Can browse courses and manage own enrollments",
			Permissions: []Permission{
				{Resource: ResourceCourse, Action: ActionRead},
				{Resource: ResourceLesson, Action: ActionRead},
				{Resource: ResourceEnrollment, Action: ActionEnroll},
				{Resource: ResourceEnrollment, Action: ActionRead},
			},
		},
		{
			Name:        RoleSupport,
			Description: "Read-only access for support staff",
			Permissions: []Permission{
				{Resource: ResourceCourse, Action: ActionRead},
				{Resource: ResourceLesson, Action: ActionRead},
				{Resource: ResourceUser, Action: ActionRead},
				{Resource: ResourceEnrollment, Action: ActionRead},
			},
		},
	}
}
