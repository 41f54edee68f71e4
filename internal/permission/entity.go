package permission

type User struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Departments []string `yaml:"departments" json:"departments"`
	Admin       bool     `yaml:"admin" json:"admin"`
}

type Department struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Managers []string `yaml:"managers" json:"managers"`
}

// Snapshot is the directory file format.
type Snapshot struct {
	Users       []User       `yaml:"users"`
	Departments []Department `yaml:"departments"`
}

// Standing is the acting user's relation to a task. Any of the three grants
// approver standing.
type Standing struct {
	IsCreator  bool `json:"is_creator"`
	IsTeamLead bool `json:"is_team_lead"`
	IsAdmin    bool `json:"is_admin"`
}

func (s Standing) IsApprover() bool {
	return s.IsCreator || s.IsTeamLead || s.IsAdmin
}
