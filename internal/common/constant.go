package common

// SessionCookieName is the http-only cookie that carries the unlock session
// token between requests.
const SessionCookieName = "praylock_session"

// AdminTokenHeaderName is the HTTP header used to carry the administrator
// bearer token on break-glass requests.
const AdminTokenHeaderName = "Authorization"
