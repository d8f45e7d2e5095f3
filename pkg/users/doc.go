// Package users manages the people of a business: adding someone with
// their first team placements, listing and reading users, and removing a
// user from the business.
//
// Every route except reading oneself is reserved to the business owner.
// Users of another business are reported as USER_NOT_FOUND.
//
// # Adding
//
// POST /users creates a business account and places it in one or more
// teams in one transaction:
//
//	{"name": "Dana", "email": "dana@acme.test",
//	 "teams": [{"teamId": "team_1", "roleId": "role_1"}]}
//
// Emails are compared case-insensitively and stored lowercased. Each team
// must be active in the business and each role must belong to its team.
// Credentials are issued by the identity provider; this package only
// records the account.
//
// # Removing
//
// DELETE /users/{userId} deletes every membership of the user, decrements
// the team member counts and role user counts, and clears the user's
// business. The owner cannot remove themselves, and a user who is still
// the admin of a team is refused until another admin is assigned.
package users
