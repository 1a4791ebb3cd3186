package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/study-analytics-api/pkg/errors"
	"github.com/noah-isme/study-analytics-api/pkg/response"
)

// ContextCourseKey stores the authorised course id.
const ContextCourseKey = "courseID"

// CourseAccess requires the analytics capability on the course named by the route parameter.
func CourseAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		courseID, err := strconv.ParseInt(c.Param(param), 10, 64)
		if err != nil || courseID <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid course id"))
			c.Abort()
			return
		}
		if !claims.ManagesCourse(courseID) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "no permission to manage study analytics for this course"))
			c.Abort()
			return
		}

		c.Set(ContextCourseKey, courseID)
		c.Next()
	}
}

// RequireSiteAdmin restricts routes to LMS site administrators.
func RequireSiteAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !claims.SiteAdmin {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// CourseID returns the course id stored by CourseAccess.
func CourseID(c *gin.Context) int64 {
	id, _ := c.Get(ContextCourseKey)
	courseID, _ := id.(int64)
	return courseID
}
